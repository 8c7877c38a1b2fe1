package command

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// Status is the lifecycle state of a command. Execution ends in exactly
// one of the terminal statuses.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSent       Status = "SENT"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusRolledBack
}

// Command is one property write to verify. Property names the writable
// surface: "state" for lights (value gateway.LightState) and pumps
// (value string), "target_temperature" (float64) and "heat_mode"
// (string) for the heater.
type Command struct {
	ID       string
	Target   gateway.TargetID
	Property string
	Value    any
}

// Result is the terminal outcome of one command. Requested is the
// value the command asked for; Observed is what the device last
// reported during verification (nil when no read succeeded).
type Result struct {
	ID        string
	Target    gateway.TargetID
	Property  string
	Status    Status
	Attempts  int
	Elapsed   time.Duration
	Requested any
	Observed  any
	Detail    string
}

// StateSource is the executor's view of the state reconciler: prior
// state for rollback, optimistic confirmation, and unknown-marking.
type StateSource interface {
	Current(target gateway.TargetID) (gateway.Properties, bool)
	ConfirmProperty(target gateway.TargetID, property string, value any)
	MarkUnknown(target gateway.TargetID, property string)
}

// Telemetry receives verification outcomes. Implementations must accept
// calls from multiple goroutines.
type Telemetry interface {
	WriteCommandVerification(kind, property, status string, attempts int, elapsed time.Duration)
}

// Logger is the minimal logging interface the executor needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// pumpToggleLimit bounds toggle-and-read cycles when driving a pump to a
// wanted state. Pumps cycle OFF → LOW → HIGH, so three steps reach any
// state from any other.
const pumpToggleLimit = 3

// tempTolerance is the comparison slack for target temperature, which
// the cloud rounds to half degrees.
const tempTolerance = 0.25

// Executor sends property writes and verifies them against device
// readback, rolling back on failure. Safe for concurrent use; commands
// for the same (target, property) are rejected rather than queued.
type Executor struct {
	gw      gateway.Gateway
	guard   *gateway.Guard
	policy  *Policy
	states  StateSource
	cfg     config.CommandConfig
	log     Logger
	metrics Telemetry

	inflight *inflightRegistry
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor. metrics may be nil.
func NewExecutor(gw gateway.Gateway, guard *gateway.Guard, policy *Policy, states StateSource, cfg config.CommandConfig, log Logger, metrics Telemetry) *Executor {
	return &Executor{
		gw:       gw,
		guard:    guard,
		policy:   policy,
		states:   states,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		inflight: newInflightRegistry(),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs one command to a terminal status. It returns an error
// only when the command never started: a busy (target, property) key, a
// value of the wrong type, a cancelled context, or a send that stayed
// rate-limited through every attempt. Otherwise the Result carries the
// outcome, including failures.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := validateValue(cmd); err != nil {
		return nil, err
	}

	key := cmd.Target.String() + ":" + cmd.Property
	if !e.inflight.tryAcquire(key) {
		return nil, &ConcurrentAccessError{Target: cmd.Target, Property: cmd.Property}
	}
	defer e.inflight.release(key)

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	start := time.Now()

	e.log.Debug("command started",
		"id", cmd.ID,
		"target", cmd.Target.String(),
		"property", cmd.Property)

	prior, havePrior := e.priorState(ctx, cmd.Target)

	if err := e.sendWithRetries(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A send that never got past the rate limiter has no terminal
		// status: the caller decides whether to wait out the backoff
		// and resubmit.
		if _, throttled := gateway.IsThrottled(err); throttled {
			return nil, err
		}
		return e.finish(cmd, StatusFailed, 0, start, nil, err.Error()), nil
	}

	params := e.paramsFor(cmd)
	if err := e.sleep(ctx, params.InitialWait); err != nil {
		return nil, err
	}

	attempts, confirmed, observed, err := e.verify(ctx, cmd, params)
	if err != nil {
		return nil, err
	}
	if confirmed {
		e.states.ConfirmProperty(cmd.Target, cmd.Property, cmd.Value)
		return e.finish(cmd, StatusConfirmed, attempts, start, cmd.Value, ""), nil
	}

	// Device never reported the wanted value. Restore what was there
	// before when we know it, otherwise fall back to the safe default.
	mismatch := fmt.Sprintf("requested %s, observed %s",
		describeValue(cmd.Value), describeValue(observed))

	if havePrior {
		if rbErr := e.rollback(ctx, cmd, prior); rbErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.states.MarkUnknown(cmd.Target, cmd.Property)
			return e.finish(cmd, StatusFailed, attempts, start, observed,
				mismatch+"; rollback failed: "+rbErr.Error()), nil
		}
		e.states.MarkUnknown(cmd.Target, cmd.Property)
		return e.finish(cmd, StatusRolledBack, attempts, start, observed,
			mismatch+"; prior state restored"), nil
	}

	if sdErr := e.applySafeDefault(ctx, cmd); sdErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.states.MarkUnknown(cmd.Target, cmd.Property)
		return e.finish(cmd, StatusFailed, attempts, start, observed,
			mismatch+"; safe default failed: "+sdErr.Error()), nil
	}
	e.states.MarkUnknown(cmd.Target, cmd.Property)
	return e.finish(cmd, StatusRolledBack, attempts, start, observed,
		mismatch+"; safe default applied"), nil
}

// applySafeDefault drives a component to its defined safe state when
// there is no recorded prior state to restore: lights OFF at level 0,
// pumps OFF. The heater's safe default is whatever it is already doing,
// so heater properties are left untouched.
func (e *Executor) applySafeDefault(ctx context.Context, cmd Command) error {
	switch cmd.Property {
	case "state":
		if cmd.Target.Kind == gateway.KindPump {
			return e.drivePump(ctx, cmd.Target.Zone, "OFF")
		}
		return e.gw.SetLight(ctx, cmd.Target.Zone, gateway.LightState{Mode: gateway.ModeOff, Intensity: 0})
	case "target_temperature", "heat_mode":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedProperty, cmd.Property)
}

// describeValue renders a requested or observed value for result
// details and fault records.
func describeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "nothing"
	case gateway.LightState:
		return fmt.Sprintf("%s@%d", val.Mode, val.Intensity)
	case float64:
		return fmt.Sprintf("%.1f", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func validateValue(cmd Command) error {
	switch cmd.Property {
	case "state":
		switch cmd.Target.Kind {
		case gateway.KindLight:
			if _, ok := cmd.Value.(gateway.LightState); !ok {
				return fmt.Errorf("%w: light state requires gateway.LightState", ErrInvalidValue)
			}
		case gateway.KindPump:
			if _, ok := cmd.Value.(string); !ok {
				return fmt.Errorf("%w: pump state requires string", ErrInvalidValue)
			}
		default:
			return fmt.Errorf("%w: state on %s", ErrUnsupportedProperty, cmd.Target.Kind)
		}
	case "target_temperature":
		if cmd.Target.Kind != gateway.KindHeater {
			return fmt.Errorf("%w: target_temperature on %s", ErrUnsupportedProperty, cmd.Target.Kind)
		}
		if _, ok := cmd.Value.(float64); !ok {
			return fmt.Errorf("%w: target_temperature requires float64", ErrInvalidValue)
		}
	case "heat_mode":
		if cmd.Target.Kind != gateway.KindHeater {
			return fmt.Errorf("%w: heat_mode on %s", ErrUnsupportedProperty, cmd.Target.Kind)
		}
		if _, ok := cmd.Value.(string); !ok {
			return fmt.Errorf("%w: heat_mode requires string", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedProperty, cmd.Property)
	}
	return nil
}

// priorState captures the component state before the write, preferring
// the reconciler's cache over a live read.
func (e *Executor) priorState(ctx context.Context, target gateway.TargetID) (gateway.Properties, bool) {
	if props, ok := e.states.Current(target); ok {
		return props.DeepCopy(), true
	}
	props, err := e.gw.ComponentState(ctx, target)
	if err != nil {
		e.log.Debug("no prior state available", "target", target.String(), "error", err)
		return nil, false
	}
	return props, true
}

// sendWithRetries issues the write, retrying transport failures and
// waiting out throttles. Validation failures abort immediately.
func (e *Executor) sendWithRetries(ctx context.Context, cmd Command) error {
	retryDelay := time.Duration(e.cfg.SendRetryDelay) * time.Second
	maxAttempts := e.cfg.SendMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = e.sendValue(ctx, cmd.Target, cmd.Property, cmd.Value)
		if lastErr == nil {
			return nil
		}
		if gateway.IsValidation(lastErr) {
			return lastErr
		}
		if _, throttled := gateway.IsThrottled(lastErr); throttled {
			// The guard is already armed; waiting it out is the retry
			// delay for this attempt.
			if err := e.guard.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		e.log.Warn("command send failed",
			"id", cmd.ID,
			"attempt", attempt,
			"error", lastErr)
		if attempt < maxAttempts {
			if err := e.sleep(ctx, retryDelay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// sendValue performs the raw write for one property.
func (e *Executor) sendValue(ctx context.Context, target gateway.TargetID, property string, value any) error {
	switch property {
	case "state":
		if target.Kind == gateway.KindLight {
			return e.gw.SetLight(ctx, target.Zone, value.(gateway.LightState))
		}
		return e.drivePump(ctx, target.Zone, value.(string))
	case "target_temperature":
		return e.gw.SetHeater(ctx, value.(float64))
	case "heat_mode":
		return e.gw.SetHeatMode(ctx, value.(string))
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedProperty, property)
}

// drivePump toggles a pump through its cycle until it reads the wanted
// state. The cloud API only exposes a toggle, not an absolute write.
func (e *Executor) drivePump(ctx context.Context, zone int, want string) error {
	target := gateway.TargetID{Kind: gateway.KindPump, Zone: zone}
	for i := 0; i < pumpToggleLimit; i++ {
		props, err := e.gw.ComponentState(ctx, target)
		if err != nil {
			return err
		}
		if state, _ := props.String("state"); state == want {
			return nil
		}
		if err := e.gw.TogglePump(ctx, zone); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) paramsFor(cmd Command) Params {
	if cmd.Target.Kind == gateway.KindLight {
		if ls, ok := cmd.Value.(gateway.LightState); ok {
			return e.policy.Params(e.policy.Classify(ls.Mode))
		}
	}
	return e.policy.Params(ProfileStatic)
}

// verify polls the device until it reports the wanted value or retries
// run out. Read failures consume an attempt. The last value the device
// reported comes back for mismatch details; it is nil when every read
// failed.
func (e *Executor) verify(ctx context.Context, cmd Command, params Params) (attempts int, confirmed bool, observed any, err error) {
	for attempts = 1; attempts <= params.MaxRetries; attempts++ {
		props, readErr := e.gw.ComponentState(ctx, cmd.Target)
		if readErr != nil {
			if ctx.Err() != nil {
				return attempts, false, observed, ctx.Err()
			}
			if _, throttled := gateway.IsThrottled(readErr); throttled {
				if werr := e.guard.Wait(ctx); werr != nil {
					return attempts, false, observed, werr
				}
			}
			e.log.Debug("verification read failed",
				"id", cmd.ID,
				"attempt", attempts,
				"error", readErr)
		} else {
			observed = observedValue(cmd, props)
			if e.matches(cmd, props) {
				return attempts, true, observed, nil
			}
		}

		if attempts < params.MaxRetries {
			if serr := e.sleep(ctx, params.RetryInterval); serr != nil {
				return attempts, false, observed, serr
			}
		}
	}
	return params.MaxRetries, false, observed, nil
}

// observedValue extracts the device's reading of the property a command
// targets, typed like the command's own value.
func observedValue(cmd Command, props gateway.Properties) any {
	switch cmd.Property {
	case "state":
		if cmd.Target.Kind == gateway.KindPump {
			state, _ := props.String("state")
			return state
		}
		mode, _ := props.String("mode")
		intensity, _ := props.Int("intensity")
		return gateway.LightState{Mode: mode, Intensity: intensity}
	case "target_temperature":
		temp, _ := props.Float("target_temperature")
		return temp
	case "heat_mode":
		mode, _ := props.String("heat_mode")
		return mode
	}
	return nil
}

// matches compares a device reading against the command's wanted value
// under the profile's comparison rules.
func (e *Executor) matches(cmd Command, props gateway.Properties) bool {
	switch cmd.Property {
	case "state":
		if cmd.Target.Kind == gateway.KindPump {
			state, _ := props.String("state")
			return state == cmd.Value.(string)
		}
		want := cmd.Value.(gateway.LightState)
		mode, _ := props.String("mode")
		if mode != want.Mode {
			return false
		}
		// OFF and animation modes report a meaningless intensity.
		if want.Mode == gateway.ModeOff || e.policy.Classify(want.Mode) == ProfileDynamic {
			return true
		}
		intensity, ok := props.Int("intensity")
		return ok && intensity == want.Intensity

	case "target_temperature":
		got, ok := props.Float("target_temperature")
		return ok && math.Abs(got-cmd.Value.(float64)) <= tempTolerance

	case "heat_mode":
		got, _ := props.String("heat_mode")
		return got == cmd.Value.(string)
	}
	return false
}

// rollback restores the component to its pre-command state.
func (e *Executor) rollback(ctx context.Context, cmd Command, prior gateway.Properties) error {
	e.log.Warn("command rolling back",
		"id", cmd.ID,
		"target", cmd.Target.String(),
		"property", cmd.Property)

	switch cmd.Property {
	case "state":
		if cmd.Target.Kind == gateway.KindPump {
			state, ok := prior.String("state")
			if !ok {
				return fmt.Errorf("prior pump state unknown")
			}
			return e.drivePump(ctx, cmd.Target.Zone, state)
		}
		mode, ok := prior.String("mode")
		if !ok {
			return fmt.Errorf("prior light mode unknown")
		}
		intensity, _ := prior.Int("intensity")
		return e.gw.SetLight(ctx, cmd.Target.Zone, gateway.LightState{Mode: mode, Intensity: intensity})

	case "target_temperature":
		temp, ok := prior.Float("target_temperature")
		if !ok {
			return fmt.Errorf("prior target temperature unknown")
		}
		return e.gw.SetHeater(ctx, temp)

	case "heat_mode":
		mode, ok := prior.String("heat_mode")
		if !ok {
			return fmt.Errorf("prior heat mode unknown")
		}
		return e.gw.SetHeatMode(ctx, mode)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedProperty, cmd.Property)
}

func (e *Executor) finish(cmd Command, status Status, attempts int, start time.Time, observed any, detail string) *Result {
	elapsed := time.Since(start)

	switch status {
	case StatusConfirmed:
		e.log.Info("command confirmed",
			"id", cmd.ID,
			"target", cmd.Target.String(),
			"property", cmd.Property,
			"attempts", attempts,
			"elapsed", elapsed)
	default:
		e.log.Warn("command did not confirm",
			"id", cmd.ID,
			"target", cmd.Target.String(),
			"property", cmd.Property,
			"status", string(status),
			"requested", describeValue(cmd.Value),
			"observed", describeValue(observed),
			"detail", detail)
	}

	if e.metrics != nil {
		e.metrics.WriteCommandVerification(
			string(cmd.Target.Kind), cmd.Property, statusMetric(status), attempts, elapsed)
	}

	return &Result{
		ID:        cmd.ID,
		Target:    cmd.Target,
		Property:  cmd.Property,
		Status:    status,
		Attempts:  attempts,
		Elapsed:   elapsed,
		Requested: cmd.Value,
		Observed:  observed,
		Detail:    detail,
	}
}

func statusMetric(s Status) string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusRolledBack:
		return "rolled_back"
	default:
		return "failed"
	}
}
