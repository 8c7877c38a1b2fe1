// Package influxdb records the bridge's time-series data: command
// verification outcomes, capability sweep verdicts, and slow-moving spa
// telemetry such as water temperature.
//
// It is a thin layer over influxdb-client-go v2. Writes go through the
// non-blocking batched API, so the command path never waits on the
// metrics server; batch failures surface through a callback registered
// with SetOnError. The whole subsystem is optional: when the config
// disables it, Connect returns ErrDisabled and the bridge runs without
// metrics.
package influxdb
