// Package errtrack keeps a bounded in-memory record of runtime faults
// and derives a per-subsystem health verdict from the recent ones.
//
// Entries go into a FIFO ring capped at a fixed size, so a flapping
// subsystem cannot grow memory without bound. Health looks only at a
// short trailing window: one old failure does not keep a subsystem
// marked degraded forever, and recovery shows up by itself once the
// window slides past the noise.
//
// The summary feeds the MQTT error topic so dashboards can show bridge
// health without scraping logs.
package errtrack
