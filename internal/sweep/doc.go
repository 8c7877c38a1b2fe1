// Package sweep discovers which light modes and intensity levels a spa
// actually honours by exhaustively writing each combination and
// verifying the device readback.
//
// # Why A Sweep Exists
//
// The cloud API accepts any mode name for any zone and returns 200; the
// only way to learn what a given spa's hardware supports is to write
// the combination and watch whether it sticks. One (zone, mode, level)
// combination is a unit; the full run over all units is a sweep.
//
// # Run Shape
//
//	Phase 1  mode scan   every mode per zone at the canonical level;
//	                     OFF is tested only at level 0
//	Phase 2  level scan  remaining levels, only for modes that passed
//	         restore     pre-sweep zone state written back
//
// Between units the engine holds a fixed settle delay: the gateway
// silently drops writes that arrive faster, even though each individual
// write would verify. Every few units, and at every zone boundary, all
// zones are driven to OFF so earlier units cannot colour later results.
//
// # Failure Containment
//
// A unit that fails verification is recorded as unsupported and the
// sweep continues. A rate-limited unit pauses the whole sweep for the
// backoff window and is retried a bounded number of times before being
// skipped. Stop requests are honoured at unit boundaries: the current
// unit finishes, completed units stay persisted, and the pre-sweep
// state is restored.
//
// # Persistence
//
// Results are upserted per unit into SQLite keyed by
// (spa, zone, mode, level), so re-runs overwrite rather than duplicate
// and an interrupted sweep resumes past the units it already holds.
//
// Only one sweep runs at a time, enforced with an atomic
// compare-and-swap rather than a lock held across the run.
package sweep
