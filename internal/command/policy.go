package command

import (
	"time"

	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// Profile selects which verification timing and comparison rules apply
// to a command.
type Profile string

const (
	// ProfileStatic covers solid colours and non-light properties: the
	// device echoes the written values exactly.
	ProfileStatic Profile = "STATIC"

	// ProfileDynamic covers animation modes: the device keeps changing
	// its reported intensity, so only the mode is compared.
	ProfileDynamic Profile = "DYNAMIC"
)

// Params are the resolved verification timings for one profile.
type Params struct {
	InitialWait   time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// dynamicModes is the closed set of animation modes. Membership here is
// the only thing that decides DYNAMIC treatment; any mode not listed is
// verified as STATIC.
var dynamicModes = map[string]struct{}{
	gateway.ModeColorWheel:          {},
	gateway.ModeHighSpeedColorWheel: {},
	gateway.ModeHighSpeedWheel:      {},
	gateway.ModeLowSpeedWheel:       {},
	gateway.ModeFullDynamicRGB:      {},
	gateway.ModeParty:               {},
	gateway.ModeAutoTimerExterior:   {},
}

// Policy resolves light modes to verification profiles and carries the
// configured timings for each.
type Policy struct {
	static  Params
	dynamic Params
}

// NewPolicy builds a policy from configuration. The config validator has
// already enforced that the dynamic ceiling exceeds the static one.
func NewPolicy(cfg config.CommandConfig) *Policy {
	return &Policy{
		static:  paramsFrom(cfg.Static),
		dynamic: paramsFrom(cfg.Dynamic),
	}
}

func paramsFrom(c config.VerifyProfileConfig) Params {
	return Params{
		InitialWait:   time.Duration(c.InitialWait) * time.Second,
		MaxRetries:    c.MaxRetries,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// Classify returns the verification profile for a light mode. OFF
// classifies as STATIC; its mode-only comparison is handled separately.
func (p *Policy) Classify(mode string) Profile {
	if _, ok := dynamicModes[mode]; ok {
		return ProfileDynamic
	}
	return ProfileStatic
}

// Params returns the timings for a profile.
func (p *Policy) Params(profile Profile) Params {
	if profile == ProfileDynamic {
		return p.dynamic
	}
	return p.static
}

// DynamicModes returns the animation mode names, for callers that need
// to enumerate them.
func DynamicModes() []string {
	out := make([]string, 0, len(dynamicModes))
	for m := range dynamicModes {
		out = append(out, m)
	}
	return out
}
