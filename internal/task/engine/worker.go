package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "replybot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		// a closed stopCh wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}

	if limit := s.cfg.MaxQueueDelay; limit > 0 && queueDelay > limit {
		s.droppedStale.Add(1)
		item.Error = ErrStale.Error()
		s.record(item)
		if !s.log.IsZero() && s.shouldWarn(&s.lastStaleWarnAt, start) {
			s.log.Warn("task dropped: stale queue",
				logx.String("task", qt.task.Name),
				logx.Duration("queue_delay", queueDelay),
				logx.Uint64("dropped_stale", s.droppedStale.Load()),
			)
		}
		finish(qt, ErrStale)
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc = func() {}
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := s.runSafe(runCtx, qt.task)
	cancel()

	item.Duration = time.Since(start)
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		if !s.log.IsZero() {
			s.log.Warn("task failed", logx.String("task", qt.task.Name), logx.String("id", qt.task.ID), logx.Err(err), logx.Duration("dur", item.Duration))
		}
	} else {
		s.completed.Add(1)
		if !s.log.IsZero() {
			s.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", item.Duration))
		}
	}
	s.record(item)
	finish(qt, err)
}

// runSafe converts a task panic into an error so one bad task cannot kill a worker.
func (s *Service) runSafe(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			if !s.log.IsZero() {
				s.log.Error("task panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}
	}()
	return t.Run(ctx)
}

func finish(qt queuedTask, err error) {
	if qt.done != nil {
		qt.done <- err
	}
}
