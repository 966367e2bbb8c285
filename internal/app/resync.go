package app

import (
	"context"
	"hash/fnv"

	"replybot/internal/rules"
	logx "replybot/pkg/logx"
)

// resync reloads the rule table from storage and broadcasts it when its
// content differs from what the cache held before. Rows edited directly in
// the database reach subscribers this way.
func (a *App) resync(ctx context.Context) error {
	prev := a.cache.Read()
	snap, err := a.cache.Refresh(ctx, a.repo)
	if err != nil {
		return err
	}
	if rulesHash(prev.Rules) == rulesHash(snap.Rules) {
		return nil
	}
	if a.disp != nil && a.disp.Publish(snap, "resync") {
		a.log.Info("rules changed outside chat; broadcast sent", logx.Int("count", len(snap.Rules)), logx.Uint64("version", snap.Version))
	}
	return nil
}

func rulesHash(rs []rules.Rule) uint64 {
	h := fnv.New64a()
	for _, r := range rs {
		_, _ = h.Write([]byte(r.Channel))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(r.MatchExpr))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(r.Response))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
