package scheduler

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrDuplicateJob    = errors.New("job already registered")
	ErrInvalidInterval = errors.New("interval must be > 0")
	ErrNotStarted      = errors.New("scheduler not started")
	ErrStopped         = errors.New("scheduler stopped")
)
