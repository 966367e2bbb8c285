// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs run on the scheduler's own goroutines, not on the task engine: a job
// usually calls code that submits engine tasks itself. A job that is still
// running when its next trigger fires is skipped.
package scheduler
