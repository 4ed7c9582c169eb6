package core

import (
	"sync"

	"github.com/samber/lo"
)

// RoomIndex is the live membership index: room -> connections and
// connection -> rooms. Both directions are updated under one lock, so every
// reader sees them consistent.
type RoomIndex struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // room id -> conn ids
	joined map[string]map[string]struct{} // conn id -> room ids
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room. Returns true if newly added.
func (ix *RoomIndex) Join(connID, roomID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	members := ix.rooms[roomID]
	if _, exists := members[connID]; exists {
		return false
	}
	if members == nil {
		members = make(map[string]struct{})
		ix.rooms[roomID] = members
	}
	members[connID] = struct{}{}

	rooms := ix.joined[connID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		ix.joined[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave removes the connection from the room. Returns true if removed.
func (ix *RoomIndex) Leave(connID, roomID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.rooms[roomID][connID]; !exists {
		return false
	}
	ix.remove(connID, roomID)
	return true
}

// LeaveAll removes the connection from every room it joined and returns
// those rooms. Concurrent MembersOf calls observe either all or none of the
// removals.
func (ix *RoomIndex) LeaveAll(connID string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	left := lo.Keys(ix.joined[connID])
	for _, roomID := range left {
		ix.remove(connID, roomID)
	}
	return left
}

// remove requires ix.mu held for writing.
func (ix *RoomIndex) remove(connID, roomID string) {
	if members := ix.rooms[roomID]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(ix.rooms, roomID)
		}
	}
	if rooms := ix.joined[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(ix.joined, connID)
		}
	}
}

// MembersOf returns a snapshot of the connections currently in the room.
// Later joins and leaves are not reflected in the returned slice.
func (ix *RoomIndex) MembersOf(roomID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return lo.Keys(ix.rooms[roomID])
}

// RoomsOf returns a snapshot of the rooms a connection has joined.
func (ix *RoomIndex) RoomsOf(connID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return lo.Keys(ix.joined[connID])
}

// Contains reports whether the connection is live in the room.
func (ix *RoomIndex) Contains(connID, roomID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.rooms[roomID][connID]
	return ok
}

// Len returns the number of rooms with at least one live connection.
func (ix *RoomIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rooms)
}
