package sweep

import (
	"fmt"
	"time"

	"github.com/tublink/tublink-core/internal/gateway"
)

// Outcome is the verdict for one sweep unit.
type Outcome string

const (
	// OutcomeSupported: the device confirmed the combination.
	OutcomeSupported Outcome = "supported"

	// OutcomeUnsupported: the device never confirmed it; the write was
	// rolled back or failed.
	OutcomeUnsupported Outcome = "unsupported"

	// OutcomeSkipped: the unit was abandoned (rate limiting exhausted
	// its retries). Skipped units are not persisted and are retested on
	// the next run.
	OutcomeSkipped Outcome = "skipped"
)

// canonicalLevel is the intensity used for the phase 1 mode scan. Every
// mode that works at all works at full intensity.
const canonicalLevel = 100

// extraLevels are the phase 2 intensities, tested only for modes that
// passed phase 1. Level 0 belongs to OFF alone.
var extraLevels = []int{25, 50, 75}

// UnitKey identifies one (zone, mode, level) combination.
type UnitKey struct {
	Zone  int
	Mode  string
	Level int
}

func (k UnitKey) String() string {
	return fmt.Sprintf("zone=%d mode=%s level=%d", k.Zone, k.Mode, k.Level)
}

// UnitResult is the recorded verdict for one unit.
type UnitResult struct {
	SpaID     string
	Key       UnitKey
	Outcome   Outcome
	Sample    *gateway.RGB
	Elapsed   time.Duration
	UpdatedAt time.Time
}

// RunStatus is the lifecycle state of a sweep run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
)

// Summary describes a finished (or stopped) sweep run.
type Summary struct {
	RunID      string
	SpaID      string
	Status     RunStatus
	TotalUnits int
	Completed  int
	Started    time.Time
	Finished   time.Time
}

// buildModeScan returns the phase 1 units for the given zones: each
// mode at its canonical level, OFF pinned to level 0. Keys already in
// existing are left out.
func buildModeScan(zones []int, existing map[UnitKey]UnitResult) []UnitKey {
	var units []UnitKey
	for _, zone := range zones {
		for _, mode := range gateway.AllLightModes() {
			level := canonicalLevel
			if mode == gateway.ModeOff {
				level = 0
			}
			key := UnitKey{Zone: zone, Mode: mode, Level: level}
			if _, done := existing[key]; done {
				continue
			}
			units = append(units, key)
		}
	}
	return units
}

// buildLevelScan returns the phase 2 units: the remaining levels for
// every mode recorded as supported, OFF excluded.
func buildLevelScan(zones []int, supported map[UnitKey]UnitResult) []UnitKey {
	var units []UnitKey
	for _, zone := range zones {
		for _, mode := range gateway.AllLightModes() {
			if mode == gateway.ModeOff {
				continue
			}
			canonical := UnitKey{Zone: zone, Mode: mode, Level: canonicalLevel}
			res, ok := supported[canonical]
			if !ok || res.Outcome != OutcomeSupported {
				continue
			}
			for _, level := range extraLevels {
				key := UnitKey{Zone: zone, Mode: mode, Level: level}
				if _, done := supported[key]; done {
					continue
				}
				units = append(units, key)
			}
		}
	}
	return units
}
