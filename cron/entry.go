package cron

import (
	"time"

	"github.com/CorbanSy/PropDash-sub000/task"
)

// Entry is a recurring task.
type Entry struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Kind      task.Kind  `json:"kind"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}
