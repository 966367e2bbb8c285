// Package broadcast fans payloads out to an open set of subscribers.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logx "replybot/pkg/logx"
)

// ErrSinkClosed tells the registry a sink is gone for good; the subscriber
// is dropped instead of being retried on the next payload.
var ErrSinkClosed = errors.New("broadcast: sink closed")

// Sink receives payloads for one subscriber.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

func (f SinkFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

type Options struct {
	// Buffer is the per-subscriber mailbox size. Default 64.
	Buffer int
	// WriteTimeout bounds one Sink.Send. Default 10s.
	WriteTimeout time.Duration
}

// Stats are cumulative counters since the registry was created.
type Stats struct {
	Subscribers int
	Delivered   uint64
	Failed      uint64
	Dropped     uint64
}

// Registry owns the subscriber set. Each subscriber has its own mailbox and
// writer goroutine, so Broadcast never blocks and a slow or failing sink only
// affects itself.
type Registry struct {
	opt Options
	log logx.Logger

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
	wg   sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	id      uint64
	sink    Sink
	mailbox chan []byte
	quit    chan struct{}

	// mu is held for the whole Send so Unregister can wait out an
	// in-flight delivery.
	mu     sync.Mutex
	closed bool
}

func New(opt Options, log logx.Logger) *Registry {
	if opt.Buffer <= 0 {
		opt.Buffer = 64
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = 10 * time.Second
	}
	return &Registry{opt: opt, log: log, subs: map[uint64]*subscriber{}}
}

// Register adds sink and returns its id. Ids are never reused.
func (r *Registry) Register(sink Sink) uint64 {
	s := &subscriber{
		id:      r.seq.Add(1),
		sink:    sink,
		mailbox: make(chan []byte, r.opt.Buffer),
		quit:    make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[s.id] = s
	r.mu.Unlock()

	r.wg.Add(1)
	go r.writer(s)
	r.log.Debug("subscriber registered", logx.Uint64("id", s.id))
	return s.id
}

// Unregister removes a subscriber. After it returns the sink is never
// invoked again. Unknown ids are ignored.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	s, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.quit)
	r.log.Debug("subscriber unregistered", logx.Uint64("id", id))
}

// Broadcast queues payload for every current subscriber. A full mailbox
// drops the payload for that subscriber only.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subs {
		select {
		case s.mailbox <- payload:
		default:
			r.dropped.Add(1)
			r.log.Warn("subscriber mailbox full; payload dropped", logx.Uint64("id", s.id), logx.Int("buffer", cap(s.mailbox)))
		}
	}
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) Stats() Stats {
	return Stats{
		Subscribers: r.Len(),
		Delivered:   r.delivered.Load(),
		Failed:      r.failed.Load(),
		Dropped:     r.dropped.Load(),
	}
}

// Close unregisters every subscriber and waits for their writers to exit.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Unregister(id)
	}
	r.wg.Wait()
}

func (r *Registry) writer(s *subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case p := <-s.mailbox:
			sent, err := r.deliver(s, p)
			if !sent {
				return
			}
			if err == nil {
				r.delivered.Add(1)
				continue
			}
			r.failed.Add(1)
			r.log.Debug("subscriber send failed", logx.Uint64("id", s.id), logx.Err(err))
			if errors.Is(err, ErrSinkClosed) {
				r.Unregister(s.id)
				return
			}
		}
	}
}

// deliver reports sent=false if the subscriber was closed before the send.
func (r *Registry) deliver(s *subscriber, p []byte) (sent bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opt.WriteTimeout)
	defer cancel()
	return true, s.sink.Send(ctx, p)
}
