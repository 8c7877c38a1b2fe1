package mqtt

import "fmt"

// DefaultBaseTopic is the topic prefix used when none is configured.
//
// All bridge topics live under: {base}/{spa_id}/{component...}
// State topics carry raw scalar payloads; sibling "<property>_writetopic"
// topics accept new desired values. Retained "meta" topics advertise the
// writable properties of each component as JSON.
const DefaultBaseTopic = "tublink"

// WriteSuffix marks a topic level that accepts desired values.
// "mode" is the read topic; "mode_writetopic" is its write sibling.
const WriteSuffix = "_writetopic"

// Topics provides builders for Tublink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Base: "tublink"}
//	stateTopic := topics.LightProperty("spa-01", 2, "mode")
//	// Returns: "tublink/spa-01/lights/2/mode"
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return t.Base
}

// ─────────────────────────────────────────────────────────────────────────────
// Component state topics (raw scalar payloads)
// ─────────────────────────────────────────────────────────────────────────────

// LightProperty returns the read topic for one light zone property.
//
// Example: tublink/spa-01/lights/2/mode
func (t Topics) LightProperty(spaID string, zone int, property string) string {
	return fmt.Sprintf("%s/%s/lights/%d/%s", t.base(), spaID, zone, property)
}

// LightWrite returns the write sibling for one light zone property.
//
// Example: tublink/spa-01/lights/2/mode_writetopic
func (t Topics) LightWrite(spaID string, zone int, property string) string {
	return t.LightProperty(spaID, zone, property) + WriteSuffix
}

// PumpProperty returns the read topic for one pump property.
//
// Example: tublink/spa-01/pumps/1/state
func (t Topics) PumpProperty(spaID string, zone int, property string) string {
	return fmt.Sprintf("%s/%s/pumps/%d/%s", t.base(), spaID, zone, property)
}

// PumpWrite returns the write sibling for one pump property.
//
// Example: tublink/spa-01/pumps/1/state_writetopic
func (t Topics) PumpWrite(spaID string, zone int, property string) string {
	return t.PumpProperty(spaID, zone, property) + WriteSuffix
}

// HeaterProperty returns the read topic for one heater property.
//
// Example: tublink/spa-01/heater/target_temperature
func (t Topics) HeaterProperty(spaID, property string) string {
	return fmt.Sprintf("%s/%s/heater/%s", t.base(), spaID, property)
}

// HeaterWrite returns the write sibling for one heater property.
//
// Example: tublink/spa-01/heater/target_temperature_writetopic
func (t Topics) HeaterWrite(spaID, property string) string {
	return t.HeaterProperty(spaID, property) + WriteSuffix
}

// SpaStatus returns the read topic for one general spa status property.
//
// Example: tublink/spa-01/status/water_temperature
func (t Topics) SpaStatus(spaID, property string) string {
	return fmt.Sprintf("%s/%s/status/%s", t.base(), spaID, property)
}

// ─────────────────────────────────────────────────────────────────────────────
// Meta topics (retained JSON)
// ─────────────────────────────────────────────────────────────────────────────

// LightMeta returns the retained meta topic advertising a light zone's
// writable properties and discovered modes.
//
// Example: tublink/spa-01/lights/2/meta
func (t Topics) LightMeta(spaID string, zone int) string {
	return fmt.Sprintf("%s/%s/lights/%d/meta", t.base(), spaID, zone)
}

// PumpMeta returns the retained meta topic for one pump.
//
// Example: tublink/spa-01/pumps/1/meta
func (t Topics) PumpMeta(spaID string, zone int) string {
	return fmt.Sprintf("%s/%s/pumps/%d/meta", t.base(), spaID, zone)
}

// HeaterMeta returns the retained meta topic for the heater.
//
// Example: tublink/spa-01/heater/meta
func (t Topics) HeaterMeta(spaID string) string {
	return fmt.Sprintf("%s/%s/heater/meta", t.base(), spaID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Command and discovery topics
// ─────────────────────────────────────────────────────────────────────────────

// CommandResult returns the topic for per-command outcome frames.
//
// Example: tublink/spa-01/command/result
func (t Topics) CommandResult(spaID string) string {
	return fmt.Sprintf("%s/%s/command/result", t.base(), spaID)
}

// CommandError returns the topic for rejected or failed command intake.
//
// Example: tublink/spa-01/command/error
func (t Topics) CommandError(spaID string) string {
	return fmt.Sprintf("%s/%s/command/error", t.base(), spaID)
}

// DiscoveryCommand returns the topic accepting sweep start/stop requests.
//
// Example: tublink/spa-01/discovery/command
func (t Topics) DiscoveryCommand(spaID string) string {
	return fmt.Sprintf("%s/%s/discovery/command", t.base(), spaID)
}

// DiscoveryStatus returns the topic for sweep lifecycle frames.
//
// Example: tublink/spa-01/discovery/status
func (t Topics) DiscoveryStatus(spaID string) string {
	return fmt.Sprintf("%s/%s/discovery/status", t.base(), spaID)
}

// DiscoveryProgress returns the topic for sweep progress frames.
//
// Example: tublink/spa-01/discovery/progress
func (t Topics) DiscoveryProgress(spaID string) string {
	return fmt.Sprintf("%s/%s/discovery/progress", t.base(), spaID)
}

// DiscoveryResult returns the retained topic for the final sweep summary.
//
// Example: tublink/spa-01/discovery/result
func (t Topics) DiscoveryResult(spaID string) string {
	return fmt.Sprintf("%s/%s/discovery/result", t.base(), spaID)
}

// ─────────────────────────────────────────────────────────────────────────────
// System topics
// ─────────────────────────────────────────────────────────────────────────────

// BridgeStatus returns the bridge availability topic (retained, also LWT).
//
// Example: tublink/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.base())
}

// ErrorSummary returns the retained topic for the error tracker summary.
//
// Example: tublink/spa-01/errors
func (t Topics) ErrorSummary(spaID string) string {
	return fmt.Sprintf("%s/%s/errors", t.base(), spaID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Wildcard patterns for subscriptions
// ─────────────────────────────────────────────────────────────────────────────

// AllLightWrites returns a pattern matching one light property's write
// topic across all spas and zones. The write suffix is part of the topic
// level, so it survives wildcard matching.
//
// Pattern: tublink/+/lights/+/mode_writetopic
func (t Topics) AllLightWrites(property string) string {
	return fmt.Sprintf("%s/+/lights/+/%s%s", t.base(), property, WriteSuffix)
}

// AllPumpWrites returns a pattern matching one pump property's write topic
// across all spas and pumps.
//
// Pattern: tublink/+/pumps/+/state_writetopic
func (t Topics) AllPumpWrites(property string) string {
	return fmt.Sprintf("%s/+/pumps/+/%s%s", t.base(), property, WriteSuffix)
}

// AllHeaterWrites returns a pattern matching one heater property's write
// topic across all spas.
//
// Pattern: tublink/+/heater/target_temperature_writetopic
func (t Topics) AllHeaterWrites(property string) string {
	return fmt.Sprintf("%s/+/heater/%s%s", t.base(), property, WriteSuffix)
}

// AllDiscoveryCommands returns a pattern matching sweep start/stop
// requests across all spas.
//
// Pattern: tublink/+/discovery/command
func (t Topics) AllDiscoveryCommands() string {
	return fmt.Sprintf("%s/+/discovery/command", t.base())
}

// AllTopics returns a pattern matching all Tublink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tublink/#
func (t Topics) AllTopics() string {
	return t.base() + "/#"
}
