package scheduler

import (
	"context"
	"time"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA name; empty means local time. Hot-reloadable via Apply.
}

// Job is one named, periodic task.
type Job struct {
	Name     string
	Schedule string // see ParseSchedule
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Event types published on the bus after each run.
const (
	EventRunOK      = "task.run.ok"
	EventRunFailed  = "task.run.failed"
	EventRunSkipped = "task.run.skipped"
)

type RunEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// JobInfo is a point-in-time view of a registered job.
type JobInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Runs    uint64        `json:"runs"`
	LastErr string        `json:"last_error,omitempty"`
}
