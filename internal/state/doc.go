// Package state reconciles polled spa snapshots against the last known
// state and produces the minimal change-set to publish.
//
// # Behaviour
//
// The reconciler holds one property bag per component. Each poll result
// is diffed against it:
//
//   - changed or newly seen properties come back as Changes
//   - unchanged properties produce nothing, keeping MQTT traffic to
//     actual transitions
//   - properties missing from a poll are retained, not deleted: the
//     cloud intermittently returns partial documents, and a transient
//     gap must not masquerade as a state change
//
// # Recovery
//
// After the poll loop has failed repeatedly, or after an explicit
// ForceRepublish (MQTT reconnect), the next successful ingest emits
// every property as a change so downstream consumers resynchronise
// from scratch.
//
// # Command Hooks
//
// The command executor feeds outcomes back in: ConfirmProperty applies
// a confirmed write to the cache immediately rather than waiting a full
// poll cycle, and MarkUnknown drops a property after a rollback so the
// next poll re-emits whatever the device actually holds.
package state
