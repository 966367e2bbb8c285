package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	logx "replybot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		kind SpecKind
		cron string
		src  string
	}{
		{in: "*/5 * * * *", kind: SpecCron, src: "cron"},
		{in: "@every 5m", kind: SpecCron, src: "cron"},
		{in: "55m", kind: SpecInterval, cron: "@every 55m0s", src: "duration"},
		{in: "02:30", kind: SpecInterval, cron: "@every 2h30m0s", src: "hhmm"},
		{in: "every: 10s", kind: SpecInterval, cron: "@every 10s", src: "duration"},
		{in: "cron: @hourly", kind: SpecCron, src: "cron"},
	}
	for _, tt := range tests {
		ps, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", tt.in, err)
		}
		if ps.Kind != tt.kind || ps.Source != tt.src {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.in, ps)
		}
		if tt.kind == SpecInterval && ps.CronSpec() != tt.cron {
			t.Fatalf("CronSpec(%q) = %q, want %q", tt.in, ps.CronSpec(), tt.cron)
		}
	}

	for _, bad := range []string{"", "abc", "00:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", bad)
		}
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), time.UTC)
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "@every 1m", 0, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Add("x", "@every 1m", 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
	if err := s.Add("x", "61 * * * *", 0, noop); err == nil {
		t.Fatal("expected error for bad cron spec")
	}
	if err := s.Add("x", "@every 1m", 0, noop); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := s.Add("x", "@hourly", 0, noop); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	got := s.Schedules()
	if len(got) != 1 || got[0].Spec != "@hourly" {
		t.Fatalf("schedules = %+v, want one @hourly entry", got)
	}
	if !s.Remove("x") || s.Remove("x") {
		t.Fatal("Remove should report true once")
	}
}

func TestRunsAndStops(t *testing.T) {
	s := New(logx.Nop(), time.UTC)
	var runs atomic.Int32
	started := make(chan struct{}, 1)
	err := s.Add("tick", "@every 1s", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		return errors.New("ignored")
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	info := s.Schedules()
	if len(info) != 1 || info[0].Next.IsZero() {
		t.Fatalf("expected a next trigger time, got %+v", info)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if runs.Load() == 0 {
		t.Fatal("expected at least one run")
	}
	s.Stop(ctx)
}
