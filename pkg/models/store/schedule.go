package store

import "time"

type Schedule struct {
	Profile   string
	Platform  string
	Interval  time.Duration
	CreatedAt time.Time
	LastRunAt *time.Time
	LastRunID *string
	Error     *string
}
