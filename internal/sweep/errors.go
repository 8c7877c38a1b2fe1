package sweep

import "errors"

var (
	// ErrSweepRunning indicates a sweep is already in progress; only one
	// runs at a time.
	ErrSweepRunning = errors.New("sweep: already running")

	// ErrNoZones indicates the spa reported no light zones to sweep.
	ErrNoZones = errors.New("sweep: no light zones discovered")
)
