package errtrack

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category names the subsystem an entry belongs to.
type Category string

const (
	CategoryCloudAPI Category = "cloud_api"
	CategoryMQTT     Category = "mqtt"
	CategoryDatabase Category = "database"
	CategoryCommand  Category = "command"
	CategorySweep    Category = "sweep"
	CategoryInflux   Category = "influxdb"
)

// Severity grades an entry.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Status is the derived health verdict for one subsystem.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
)

const (
	// maxEntries caps the ring; the oldest entry falls out first.
	maxEntries = 100

	// statusWindow is how far back the health verdict looks.
	statusWindow = 5 * time.Minute

	// failingErrorCount is how many windowed errors tip a subsystem
	// from degraded to failing without any critical entry.
	failingErrorCount = 5
)

// Entry is one recorded fault.
type Entry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Category Category  `json:"category"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Summary is a point-in-time health report.
type Summary struct {
	Generated  time.Time           `json:"generated"`
	Retained   int                 `json:"retained"`
	Subsystems map[Category]Status `json:"subsystems"`
	Windowed   map[Category]int    `json:"windowed_counts"`
}

// Tracker records faults and summarises subsystem health. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries []Entry

	now func() time.Time // swapped in tests
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends a fault, evicting the oldest entry once the ring is
// full.
func (t *Tracker) Record(category Category, severity Severity, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, Entry{
		ID:       uuid.NewString(),
		Time:     t.now(),
		Category: category,
		Severity: severity,
		Message:  message,
	})
	if len(t.entries) > maxEntries {
		t.entries = t.entries[len(t.entries)-maxEntries:]
	}
}

// Recent returns the newest n entries, newest first.
func (t *Tracker) Recent(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > len(t.entries) {
		n = len(t.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(t.entries) - 1; i >= len(t.entries)-n; i-- {
		out = append(out, t.entries[i])
	}
	return out
}

// Summary derives per-subsystem health from entries inside the trailing
// window. A subsystem with no windowed entries is ok; any entry makes
// it degraded; a critical entry or enough errors make it failing.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-statusWindow)

	counts := make(map[Category]int)
	errs := make(map[Category]int)
	criticals := make(map[Category]bool)

	for _, e := range t.entries {
		if e.Time.Before(cutoff) {
			continue
		}
		counts[e.Category]++
		switch e.Severity {
		case SeverityError:
			errs[e.Category]++
		case SeverityCritical:
			criticals[e.Category] = true
		}
	}

	subsystems := make(map[Category]Status)
	for cat, n := range counts {
		switch {
		case criticals[cat] || errs[cat] >= failingErrorCount:
			subsystems[cat] = StatusFailing
		case n > 0:
			subsystems[cat] = StatusDegraded
		}
	}

	return Summary{
		Generated:  now,
		Retained:   len(t.entries),
		Subsystems: subsystems,
		Windowed:   counts,
	}
}
