// Package bridge is the MQTT face of the service: it publishes spa
// state onto the topic tree, accepts writes on the _writetopic
// siblings, and exposes capability discovery over the discovery
// topics.
//
// # Topic Contract
//
//	{base}/{spa}/lights/{zone}/{property}               state, raw scalar
//	{base}/{spa}/lights/{zone}/{property}_writetopic    accepted writes
//	{base}/{spa}/pumps/{zone}/state[_writetopic]
//	{base}/{spa}/heater/{property}[_writetopic]
//	{base}/{spa}/status/{property}
//	{base}/{spa}/command/{result,error}                 JSON outcomes
//	{base}/{spa}/discovery/{command,status,progress,result}
//	{base}/{spa}/errors                                 health summary
//	{base}/bridge/status                                retained LWT
//
// State payloads are raw scalars ("PURPLE", "50", "38.5") so plain
// automations can consume them without JSON parsing; structured data
// (command outcomes, discovery progress, health) is JSON.
//
// # Write Handling
//
// A light mode write pairs the incoming mode with the zone's current
// intensity, and an intensity write keeps the current mode, so either
// topic works on its own. Every accepted write runs through the
// verified command executor; the terminal outcome lands on the command
// result topic and confirmed values are published immediately instead
// of waiting for the next poll.
//
// # Polling
//
// A background loop polls the cloud at the configured interval, feeds
// the snapshot through the state reconciler, and publishes only the
// changed properties. Poll failures are tracked; recovery triggers a
// full republish so retained consumers resynchronise.
package bridge
