package runner

import "time"

const (
	// MaxReasonableConcurrency is the configured concurrency above which a warning is logged
	MaxReasonableConcurrency = 32

	// DefaultDetachedDrainTimeout bounds how long a step waits for its detached operations
	DefaultDetachedDrainTimeout = 30 * time.Second

	notRunCancelled = "scenario not run: run cancelled"
)
