package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"replybot/internal/eventbus"
	rtsup "replybot/internal/runtime/supervisor"
	logx "replybot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight     atomic.Int32
	completed    atomic.Uint64
	failed       atomic.Uint64
	droppedStale atomic.Uint64
	idSeq        atomic.Uint64

	lastStaleWarnAt atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	done       chan error // optional, buffered(1)
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Start launches the workers. It is idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))

	stopCh, queue := s.stopCh, s.q
	for i := 0; i < cfg.Workers; i++ {
		// A worker only returns on shutdown; anything else is restarted.
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return nil
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	if !s.log.IsZero() {
		s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
	}
}

// Stop signals the workers and waits for them, bounded by ctx.
// Tasks still queued are abandoned and their waiters get ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.q, s.stopCh, s.stopDone, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		if !s.log.IsZero() {
			s.log.Info("task engine stopped")
		}
	case <-ctx.Done():
		if !s.log.IsZero() {
			s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
		}
	}
}

// Submit enqueues t and blocks until it is accepted, ctx ends, or the engine stops.
// It does not wait for the task to run.
func (s *Service) Submit(ctx context.Context, t Task) error {
	_, err := s.enqueue(ctx, t, nil)
	return err
}

// Do enqueues t and waits for its result. The caller's ctx bounds both the
// wait in the queue and the run itself.
func (s *Service) Do(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	run := t.Run
	if run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Run = func(runCtx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(runCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return run(runCtx)
	}

	done := make(chan error, 1)
	stopCh, err := s.enqueue(ctx, t, done)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		// the task may have finished right before shutdown
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (s *Service) enqueue(ctx context.Context, t Task, done chan error) (<-chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Run == nil {
		return nil, fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	cfg, q, stopCh, stopping := s.cfg, s.q, s.stopCh, s.stopDone != nil
	s.mu.Unlock()
	if q == nil || stopCh == nil || stopping {
		return nil, ErrStopped
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, done: done}

	select {
	case q <- qt:
		return stopCh, nil
	default:
	}
	select {
	case q <- qt:
		return stopCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stopCh:
		return nil, ErrStopped
	}
}

// Snapshot reports queue depth, counters and recent history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:        running,
		Workers:        cfg.Workers,
		InFlight:       int(s.inFlight.Load()),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		DroppedStale:   s.droppedStale.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		MaxQueueDelay:  cfg.MaxQueueDelay,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: TaskEvent{
			ID:         item.ID,
			Name:       item.Name,
			Started:    item.Started,
			QueueDelay: item.QueueDelay,
			Duration:   item.Duration,
			Error:      item.Error,
		}})
	}
}

func (s *Service) shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}
