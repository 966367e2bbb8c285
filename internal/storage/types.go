package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Rule is one auto-reply entry. (Channel, MatchExpr) is its identity.
type Rule struct {
	Channel   string `json:"channel"`
	MatchExpr string `json:"match_expression"`
	Response  string `json:"response_text"`
}

// Store is the persistence API for rules.
//
// Upsert replaces the row with the same (channel, match) key and reports the
// number of affected rows. Remove reports how many rows were deleted (0 or 1).
// ListAll returns every rule ordered by channel, then match.
type Store interface {
	Upsert(ctx context.Context, r Rule) (int64, error)
	Remove(ctx context.Context, channel, match string) (int64, error)
	ListAll(ctx context.Context) ([]Rule, error)
	Close() error
}
