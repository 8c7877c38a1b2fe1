package sweep

import "sync"

// Phase names the stage a sweep run is in.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseModeScan  Phase = "mode_scan"
	PhaseLevelScan Phase = "level_scan"
	PhaseRestoring Phase = "restoring"
	PhaseComplete  Phase = "complete"
	PhaseStopped   Phase = "stopped"
)

// ProgressSnapshot is a point-in-time view of a sweep run, safe to hand
// to any number of readers.
type ProgressSnapshot struct {
	Phase          Phase
	TotalUnits     int
	CompletedUnits int
	CurrentUnit    string
	Percent        float64
}

// Tracker accumulates sweep progress and notifies an observer on every
// transition. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	phase    Phase
	total    int
	complete int
	current  string

	observer func(ProgressSnapshot)
}

// NewTracker creates an idle tracker. observer may be nil; it is called
// after every state change, outside the tracker's lock.
func NewTracker(observer func(ProgressSnapshot)) *Tracker {
	return &Tracker{phase: PhaseIdle, observer: observer}
}

// Reset arms the tracker for a new run with the given unit count.
func (t *Tracker) Reset(total int) {
	t.mu.Lock()
	t.phase = PhaseIdle
	t.total = total
	t.complete = 0
	t.current = ""
	t.mu.Unlock()
	t.notify()
}

// AddUnits grows the total after phase 1 decides how many level-scan
// units exist.
func (t *Tracker) AddUnits(n int) {
	t.mu.Lock()
	t.total += n
	t.mu.Unlock()
	t.notify()
}

// OnPhaseChange records entry into a new phase.
func (t *Tracker) OnPhaseChange(phase Phase) {
	t.mu.Lock()
	t.phase = phase
	t.current = ""
	t.mu.Unlock()
	t.notify()
}

// OnUnitStart records the unit now under test.
func (t *Tracker) OnUnitStart(key UnitKey) {
	t.mu.Lock()
	t.current = key.String()
	t.mu.Unlock()
	t.notify()
}

// OnUnitComplete counts a finished unit regardless of outcome.
func (t *Tracker) OnUnitComplete(key UnitKey, outcome Outcome) {
	t.mu.Lock()
	t.complete++
	t.current = ""
	t.mu.Unlock()
	t.notify()
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() ProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() ProgressSnapshot {
	snap := ProgressSnapshot{
		Phase:          t.phase,
		TotalUnits:     t.total,
		CompletedUnits: t.complete,
		CurrentUnit:    t.current,
	}
	if t.total > 0 {
		snap.Percent = 100 * float64(t.complete) / float64(t.total)
	}
	return snap
}

func (t *Tracker) notify() {
	if t.observer == nil {
		return
	}
	t.mu.RLock()
	snap := t.snapshotLocked()
	t.mu.RUnlock()
	t.observer(snap)
}
