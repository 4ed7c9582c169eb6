package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// RoomHandlers manages rooms, their members and message history.
type RoomHandlers struct {
	store        store.Store
	historyLimit int
	log          *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance. historyLimit caps
// the page size of History.
func NewRoomHandlers(st store.Store, historyLimit int, logger *zerolog.Logger) *RoomHandlers {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &RoomHandlers{
		store:        st,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// CreateRoomRequest represents the create room request body. ID is optional;
// the store generates one when it is empty.
type CreateRoomRequest struct {
	ID   string `json:"id" binding:"omitempty,max=128"`
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// AddMemberRequest names the user to add.
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// HistoryResponse is one page of room history, oldest first.
type HistoryResponse struct {
	Room     string                   `json:"room"`
	Messages []proto.EventMessageData `json:"messages"`
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		OwnerID:   room.OwnerID,
		CreatedAt: room.CreatedAt.Format(time.RFC3339),
	}
}

// CreateRoom handles room creation. The caller becomes the first member.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.store.CreateRoom(c.Request.Context(), req.ID, req.Name, uid)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room already exists"})
			return
		}
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room", room.ID).Str("owner_id", uid).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms lists the rooms the caller belongs to.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	rooms, err := h.store.ListRooms(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, roomResponse(room))
	}
	c.JSON(http.StatusOK, response)
}

// AddMember lets an existing member add another user to the room.
// POST /api/rooms/:id/members
func (h *RoomHandlers) AddMember(c *gin.Context) {
	roomID, ok := h.requireMember(c)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetUserByID(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to look up user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.AddMember(ctx, roomID, req.UserID); err != nil {
		h.log.Error().Err(err).Str("room", roomID).Str("user_id", req.UserID).Msg("failed to add member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room", roomID).Str("user_id", req.UserID).Msg("member added")
	c.Status(http.StatusNoContent)
}

// History returns persisted messages, newest page first, each page in
// chronological order. "before" pages backwards by message id.
// GET /api/rooms/:id/messages?limit=&before=
func (h *RoomHandlers) History(c *gin.Context) {
	roomID, ok := h.requireMember(c)
	if !ok {
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, h.historyLimit)
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before"})
			return
		}
		before = &id
	}

	msgs, err := h.store.ListByRoom(c.Request.Context(), roomID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := HistoryResponse{Room: roomID, Messages: make([]proto.EventMessageData, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, storedMessageData(m))
	}
	c.JSON(http.StatusOK, out)
}

// requireMember resolves :id and checks that the caller belongs to it. It
// writes the error response itself and reports false when the request must
// stop.
func (h *RoomHandlers) requireMember(c *gin.Context) (string, bool) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return "", false
	}
	roomID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return "", false
		}
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return "", false
	}

	member, err := h.store.IsMember(ctx, roomID, uid)
	if err != nil {
		h.log.Error().Err(err).Str("room", roomID).Str("user_id", uid).Msg("failed to check membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return "", false
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this room"})
		return "", false
	}
	return roomID, true
}
