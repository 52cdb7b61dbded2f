package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when a sweeper is built with unusable settings
	ErrInvalidConfig = errors.New("invalid retention sweeper configuration")

	// ErrStopTimeout is returned when an in-progress sweep outlives the stop deadline
	ErrStopTimeout = errors.New("retention sweeper did not stop before deadline")
)
