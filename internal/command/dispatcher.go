// Package command parses admin chat commands and applies them to the rule
// store, cache and broadcast registry in a fixed order.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"replybot/internal/eventbus"
	"replybot/internal/irc"
	"replybot/internal/rules"
	logx "replybot/pkg/logx"
)

// Store is the persistent rule store as seen by the dispatcher.
type Store interface {
	Upsert(ctx context.Context, r rules.Rule) (int64, error)
	Remove(ctx context.Context, channel, match string) (int64, error)
	ListAll(ctx context.Context) ([]rules.Rule, error)
}

// Replier sends a chat line to a channel.
type Replier interface {
	SendChannelMessage(ctx context.Context, channel, text string) error
}

// Publisher receives snapshot payloads and passthrough lines.
type Publisher interface {
	Broadcast(payload []byte)
}

// Recorder observes command outcomes. Optional.
type Recorder interface {
	CommandHandled(kind, outcome string)
}

type Options struct {
	Prefix    string // default "#"
	AutoReply bool
	Workers   int // default 3
	QueueSize int // default 256
}

// Dispatcher executes admin commands. For a successful mutation the order is
// always: store write, cache refresh, broadcast enqueue, chat confirmation.
type Dispatcher struct {
	store Store
	cache *rules.Cache
	pub   Publisher
	reply Replier
	bus   eventbus.Bus
	rec   Recorder
	log   logx.Logger
	opt   Options

	jobs chan func(context.Context)

	// pubMu orders snapshot broadcasts so an older version is never sent
	// after a newer one.
	pubMu       sync.Mutex
	lastVersion uint64
}

func New(store Store, cache *rules.Cache, pub Publisher, reply Replier, bus eventbus.Bus, rec Recorder, log logx.Logger, opt Options) *Dispatcher {
	if opt.Prefix == "" {
		opt.Prefix = "#"
	}
	if opt.Workers <= 0 {
		opt.Workers = 3
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Dispatcher{
		store: store,
		cache: cache,
		pub:   pub,
		reply: reply,
		bus:   bus,
		rec:   rec,
		log:   log,
		opt:   opt,
		jobs:  make(chan func(context.Context), opt.QueueSize),
	}
}

// Handle runs the command in m, if any, and returns what it was.
// Unknown verbs and plain chat are ignored.
func (d *Dispatcher) Handle(ctx context.Context, m *irc.ChannelMessage) Kind {
	cmd := Parse(m.Text, d.opt.Prefix)
	if cmd.Kind == NotACommand || cmd.Kind == Unknown {
		return cmd.Kind
	}

	log := d.log.With(
		logx.String("req_id", uuid.NewString()),
		logx.String("cmd", cmd.Kind.String()),
		logx.String("user", m.User),
		logx.String("channel", m.Channel),
	)

	var outcome string
	switch cmd.Kind {
	case SetUsage:
		outcome = "usage"
		d.say(ctx, log, m.Channel, fmt.Sprintf(replySetUsage, m.User, d.opt.Prefix))
	case RemoveUsage:
		outcome = "usage"
		d.say(ctx, log, m.Channel, fmt.Sprintf(replyRemoveUsage, m.User, d.opt.Prefix))
	case Set:
		outcome = d.set(ctx, log, m, cmd)
	case Remove:
		outcome = d.remove(ctx, log, m, cmd)
	}
	if d.rec != nil {
		d.rec.CommandHandled(cmd.Kind.String(), outcome)
	}
	return cmd.Kind
}

func (d *Dispatcher) set(ctx context.Context, log logx.Logger, m *irc.ChannelMessage, cmd Command) string {
	rule := rules.Rule{Channel: m.Channel, MatchExpr: cmd.MatchExpr, Response: cmd.Response}
	n, err := d.store.Upsert(ctx, rule)
	if err != nil {
		log.Error("set command failed", logx.String("match", cmd.MatchExpr), logx.Err(err))
		d.say(ctx, log, m.Channel, fmt.Sprintf(replySetFail, m.User))
		return "error"
	}
	if n > 0 {
		d.refreshAndPublish(ctx, log, "set")
	}
	log.Info("rule set", logx.String("match", cmd.MatchExpr), logx.Int64("affected", n))
	d.say(ctx, log, m.Channel, fmt.Sprintf(replySetOK, m.User))
	return "ok"
}

func (d *Dispatcher) remove(ctx context.Context, log logx.Logger, m *irc.ChannelMessage, cmd Command) string {
	n, err := d.store.Remove(ctx, m.Channel, cmd.MatchExpr)
	if err != nil {
		log.Error("remove command failed", logx.String("match", cmd.MatchExpr), logx.Err(err))
		d.say(ctx, log, m.Channel, fmt.Sprintf(replyRemoveFail, m.User))
		return "error"
	}
	if n == 0 {
		d.say(ctx, log, m.Channel, fmt.Sprintf(replyRemoveNone, m.User))
		return "none"
	}
	d.refreshAndPublish(ctx, log, "remove")
	log.Info("rule removed", logx.String("match", cmd.MatchExpr))
	d.say(ctx, log, m.Channel, fmt.Sprintf(replyRemoveOK, m.User))
	return "ok"
}

// refreshAndPublish reloads the cache after a write. A failed refresh keeps
// the stale snapshot and skips the broadcast; the write itself stands.
func (d *Dispatcher) refreshAndPublish(ctx context.Context, log logx.Logger, reason string) {
	snap, err := d.cache.Refresh(ctx, d.store)
	if err != nil {
		if errors.Is(err, rules.ErrCacheUnavailable) {
			log.Warn("cache refresh skipped", logx.Err(err))
		} else {
			log.Error("cache refresh failed; serving stale rules", logx.Err(err))
		}
		return
	}
	d.Publish(snap, reason)
}

// Publish broadcasts snap as a JSON array unless a snapshot at least as new
// has already been broadcast. It reports whether snap was sent.
func (d *Dispatcher) Publish(snap rules.Snapshot, reason string) bool {
	payload, err := json.Marshal(snap.Rules)
	if err != nil {
		d.log.Error("snapshot encode failed", logx.Err(err))
		return false
	}

	d.pubMu.Lock()
	if snap.Version <= d.lastVersion {
		d.pubMu.Unlock()
		return false
	}
	d.lastVersion = snap.Version
	d.pub.Broadcast(payload)
	d.pubMu.Unlock()

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeRulesChanged, Data: eventbus.RulesChanged{
			Version: snap.Version,
			Count:   len(snap.Rules),
			Reason:  reason,
		}})
	}
	return true
}

func (d *Dispatcher) say(ctx context.Context, log logx.Logger, channel, text string) {
	if err := d.reply.SendChannelMessage(ctx, channel, text); err != nil {
		log.Warn("chat reply failed", logx.Err(err))
	}
}

// firstToken is the auto-reply trigger of a chat line.
func firstToken(text string) string {
	head, _ := cutSpace(text)
	return strings.TrimSpace(head)
}
