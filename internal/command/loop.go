package command

import (
	"context"
	"runtime/debug"
	"sync"

	"replybot/internal/irc"
	logx "replybot/pkg/logx"
)

// Route is called by the connection read loop for every inbound message.
// It never blocks: commands and auto-replies are queued for the workers, and
// plain chat lines are passed through to the publisher.
func (d *Dispatcher) Route(m irc.Message) {
	cm, ok := m.(*irc.ChannelMessage)
	if !ok {
		return
	}

	cmd := Parse(cm.Text, d.opt.Prefix)
	switch cmd.Kind {
	case Unknown:
		d.log.Debug("unknown command ignored", logx.String("user", cm.User), logx.String("channel", cm.Channel))
		return
	case NotACommand:
		d.pub.Broadcast([]byte(cm.Raw))
		if !d.opt.AutoReply {
			return
		}
		rule, ok := d.cache.Match(cm.Channel, firstToken(cm.Text))
		if !ok {
			return
		}
		d.enqueue("autoreply", func(ctx context.Context) {
			d.say(ctx, d.log.With(logx.String("channel", cm.Channel)), cm.Channel, rule.Response)
			if d.rec != nil {
				d.rec.CommandHandled("autoreply", "ok")
			}
		})
	default:
		d.enqueue(cmd.Kind.String(), func(ctx context.Context) { d.Handle(ctx, cm) })
	}
}

func (d *Dispatcher) enqueue(kind string, job func(context.Context)) {
	select {
	case d.jobs <- job:
	default:
		d.log.Warn("dispatch queue full; dropping", logx.String("kind", kind), logx.Int("queue_cap", cap(d.jobs)))
		if d.rec != nil {
			d.rec.CommandHandled(kind, "dropped")
		}
	}
}

// Run starts the dispatch workers and blocks until ctx ends and they exit.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.opt.Workers
	d.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(d.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					d.runJob(ctx, idx, job)
				}
			}
		}(i)
	}
	wg.Wait()
	d.log.Info("command dispatcher stopped")
	return nil
}

func (d *Dispatcher) runJob(ctx context.Context, idx int, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}
