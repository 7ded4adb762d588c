// Package scheduler runs named maintenance jobs on cron or interval
// schedules. Each run gets its own timeout, a run that is still going when
// the next trigger fires is skipped, and panics are recovered by the
// service's supervisor.
package scheduler
