package state

import (
	"sort"
	"sync"

	"github.com/tublink/tublink-core/internal/gateway"
)

// pollFailureThreshold is how many consecutive poll failures force a
// full republish once polling recovers.
const pollFailureThreshold = 3

// Change is one observed property transition.
type Change struct {
	Target   gateway.TargetID
	Property string
	Value    any
}

// Logger is the minimal logging interface the reconciler needs.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Reconciler diffs polled snapshots against the last known state. Safe
// for concurrent use.
type Reconciler struct {
	mu           sync.Mutex
	components   map[gateway.TargetID]gateway.Properties
	forceAll     bool
	pollFailures int
	log          Logger
}

// New creates an empty reconciler. The first ingest emits everything.
func New(log Logger) *Reconciler {
	return &Reconciler{
		components: make(map[gateway.TargetID]gateway.Properties),
		log:        log,
	}
}

// Ingest diffs a successful poll against the cache and returns the
// changes, sorted by target and property for deterministic publishing.
// Properties absent from the snapshot but present in the cache are
// retained: partial cloud documents must not read as transitions.
func (r *Reconciler) Ingest(snap *gateway.Snapshot) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	republishAll := r.forceAll || r.pollFailures >= pollFailureThreshold
	if republishAll && r.log != nil {
		r.log.Info("full state republish",
			"forced", r.forceAll,
			"poll_failures", r.pollFailures)
	}
	r.forceAll = false
	r.pollFailures = 0

	var changes []Change
	for target, props := range snap.Components {
		cached := r.components[target]
		if cached == nil {
			cached = gateway.Properties{}
			r.components[target] = cached
		}
		for key, value := range props {
			if !republishAll {
				if old, known := cached[key]; known && old == value {
					continue
				}
			}
			cached[key] = value
			changes = append(changes, Change{Target: target, Property: key, Value: value})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Target != changes[j].Target {
			return changes[i].Target.String() < changes[j].Target.String()
		}
		return changes[i].Property < changes[j].Property
	})
	return changes
}

// Current returns the cached properties for a component. The copy is
// the caller's to mutate.
func (r *Reconciler) Current(target gateway.TargetID) (gateway.Properties, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	props, ok := r.components[target]
	if !ok || len(props) == 0 {
		return nil, false
	}
	return props.DeepCopy(), true
}

// ConfirmProperty applies a verified command outcome to the cache
// immediately, without waiting for the next poll.
func (r *Reconciler) ConfirmProperty(target gateway.TargetID, property string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cached := r.components[target]
	if cached == nil {
		cached = gateway.Properties{}
		r.components[target] = cached
	}

	// A light "state" write carries mode and intensity together.
	if target.Kind == gateway.KindLight && property == "state" {
		if ls, ok := value.(gateway.LightState); ok {
			cached["mode"] = ls.Mode
			cached["intensity"] = ls.Intensity
		}
		return
	}
	cached[property] = value
}

// MarkUnknown drops a property from the cache so the next poll re-emits
// whatever the device reports. Called after rollbacks and failures.
func (r *Reconciler) MarkUnknown(target gateway.TargetID, property string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cached := r.components[target]
	if cached == nil {
		return
	}
	if target.Kind == gateway.KindLight && property == "state" {
		delete(cached, "mode")
		delete(cached, "intensity")
		return
	}
	delete(cached, property)
}

// ForceRepublish makes the next successful ingest emit every property,
// used after MQTT reconnects so retained consumers resynchronise.
func (r *Reconciler) ForceRepublish() {
	r.mu.Lock()
	r.forceAll = true
	r.mu.Unlock()
}

// RecordPollFailure notes a failed poll. The cache is left intact so
// commands can still roll back against the last known state; once
// failures pass the threshold, recovery triggers a full republish.
func (r *Reconciler) RecordPollFailure() {
	r.mu.Lock()
	r.pollFailures++
	n := r.pollFailures
	r.mu.Unlock()
	if r.log != nil {
		r.log.Debug("poll failure recorded", "consecutive", n)
	}
}
