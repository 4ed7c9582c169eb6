package config

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// HubOptions translates the relay settings into hub options. members backs
// the join/send membership check when require_membership is on.
func (c Config) HubOptions(members core.MembershipChecker, logger *zerolog.Logger) []core.Option {
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithPresence(c.Presence),
		core.WithPersistTimeout(c.PersistTimeout),
	}
	if c.RequireMembership {
		opts = append(opts, core.WithMembership(members))
	}
	return opts
}
