package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "replybot/pkg/logx"
)

// Job is the function a schedule runs. ctx ends when the scheduler stops or
// the job's timeout passes.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // normalized cron spec or "@every <d>"
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
}

// Service owns one cron instance. Schedules added before Start are
// registered when it runs.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	ctx    context.Context
	cancel context.CancelFunc
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name          string
	Spec          string
	Timeout       time.Duration
	StartupSpread time.Duration
	Next          time.Time
	Prev          time.Time
}
