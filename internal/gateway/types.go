package gateway

import (
	"context"
	"fmt"
	"time"
)

// ComponentKind identifies the class of spa component a TargetID refers to.
type ComponentKind string

const (
	KindLight  ComponentKind = "light"
	KindPump   ComponentKind = "pump"
	KindHeater ComponentKind = "heater"
	KindStatus ComponentKind = "status"
)

// AllComponentKinds returns every addressable component kind.
func AllComponentKinds() []ComponentKind {
	return []ComponentKind{KindLight, KindPump, KindHeater, KindStatus}
}

// TargetID addresses a single spa component. Zone is the 1-based zone
// number for lights and pumps; heater and status use zone 0.
type TargetID struct {
	Kind ComponentKind
	Zone int
}

// String returns the canonical "kind/zone" form used in logs and
// in-flight registry keys.
func (t TargetID) String() string {
	return fmt.Sprintf("%s/%d", t.Kind, t.Zone)
}

// Light modes as the cloud API names them. OFF and the colour constants
// hold a fixed output; the wheel and party modes animate on-device.
const (
	ModeOff                 = "OFF"
	ModePurple              = "PURPLE"
	ModeOrange              = "ORANGE"
	ModeRed                 = "RED"
	ModeYellow              = "YELLOW"
	ModeGreen               = "GREEN"
	ModeAqua                = "AQUA"
	ModeBlue                = "BLUE"
	ModeWhite               = "WHITE"
	ModeAmber               = "AMBER"
	ModeColorWheel          = "COLOR_WHEEL"
	ModeHighSpeedColorWheel = "HIGH_SPEED_COLOR_WHEEL"
	ModeHighSpeedWheel      = "HIGH_SPEED_WHEEL"
	ModeLowSpeedWheel       = "LOW_SPEED_WHEEL"
	ModeFullDynamicRGB      = "FULL_DYNAMIC_RGB"
	ModeParty               = "PARTY"
	ModeAutoTimerExterior   = "AUTO_TIMER_EXTERIOR"
)

// AllLightModes returns every mode the cloud API accepts, OFF first.
func AllLightModes() []string {
	return []string{
		ModeOff, ModePurple, ModeOrange, ModeRed, ModeYellow, ModeGreen,
		ModeAqua, ModeBlue, ModeWhite, ModeAmber, ModeColorWheel,
		ModeHighSpeedColorWheel, ModeHighSpeedWheel, ModeLowSpeedWheel,
		ModeFullDynamicRGB, ModeParty, ModeAutoTimerExterior,
	}
}

// RGB holds one colour sample, channels 0-255.
type RGB struct {
	R int `json:"red"`
	G int `json:"green"`
	B int `json:"blue"`
}

// LightState is the writable state of one light zone. RGB is only sent
// when non-nil; most modes ignore it and FULL_DYNAMIC_RGB requires it.
type LightState struct {
	Mode      string
	Intensity int
	RGB       *RGB
}

// Heat modes accepted by the heater config endpoint.
const (
	HeatModeAuto    = "AUTO"
	HeatModeEconomy = "ECONOMY"
	HeatModeDay     = "DAY"
	HeatModeReady   = "READY"
	HeatModeRest    = "REST"
)

// AllHeatModes returns the heat modes the cloud API accepts.
func AllHeatModes() []string {
	return []string{HeatModeAuto, HeatModeEconomy, HeatModeDay, HeatModeReady, HeatModeRest}
}

// Properties is the untyped property bag for one component, keyed by
// property name. Values are strings, ints, or float64s depending on the
// property; callers compare with the helpers below rather than type
// asserting directly.
type Properties map[string]any

// DeepCopy returns an independent copy. RGB values are duplicated so the
// copy cannot alias the original's pointers.
func (p Properties) DeepCopy() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		if rgb, ok := v.(*RGB); ok && rgb != nil {
			c := *rgb
			out[k] = &c
			continue
		}
		out[k] = v
	}
	return out
}

// Int reads an integer property, tolerating the float64 values that
// encoding/json produces for numbers.
func (p Properties) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Float reads a numeric property as float64.
func (p Properties) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String reads a string property.
func (p Properties) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Snapshot is one full reading of the spa: every component's properties
// at a single point in time. Components maps TargetID to its property
// bag; absent targets were not reported by the cloud.
type Snapshot struct {
	SpaID      string
	Taken      time.Time
	Components map[TargetID]Properties
}

// DeepCopy returns an independent copy of the snapshot.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		SpaID:      s.SpaID,
		Taken:      s.Taken,
		Components: make(map[TargetID]Properties, len(s.Components)),
	}
	for id, props := range s.Components {
		out.Components[id] = props.DeepCopy()
	}
	return out
}

// Gateway is the remote spa API surface the rest of the system depends
// on. Implementations must be safe for concurrent use and must return
// errors from the package taxonomy (ValidationError, TransportError,
// ThrottledError) so callers can branch on class.
type Gateway interface {
	// Snapshot reads the full spa state in one round of requests.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// ComponentState reads the current properties of a single component.
	ComponentState(ctx context.Context, target TargetID) (Properties, error)

	// SetLight writes mode, intensity, and optionally RGB to a light zone.
	SetLight(ctx context.Context, zone int, state LightState) error

	// SetHeater writes the target temperature in Celsius.
	SetHeater(ctx context.Context, tempC float64) error

	// SetHeatMode writes the heater operating mode.
	SetHeatMode(ctx context.Context, mode string) error

	// TogglePump advances a pump one step through its OFF/LOW/HIGH cycle.
	TogglePump(ctx context.Context, zone int) error
}
