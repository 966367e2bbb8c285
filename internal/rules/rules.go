// Package rules holds the auto-reply rule model, the repository that runs
// storage calls on the task engine, and the in-memory snapshot cache.
package rules

import (
	"errors"

	"replybot/internal/storage"
)

var (
	// ErrStore wraps every storage failure surfaced by Repository.
	ErrStore = errors.New("rule store failure")
	// ErrCacheUnavailable is returned when a refresh could not start.
	ErrCacheUnavailable = errors.New("rule cache unavailable")
)

// Rule is one auto-reply entry; (Channel, MatchExpr) is its identity.
type Rule = storage.Rule
