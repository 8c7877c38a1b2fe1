package sweep

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tublink/tublink-core/internal/command"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// rgbTolerance is the per-channel slack when comparing a probed colour
// against what the device reports.
const rgbTolerance = 5

// rgbProbeChannels are the colours written during a FULL_DYNAMIC_RGB
// probe: pure red, green, blue, and white.
var rgbProbeChannels = []gateway.RGB{
	{R: 255, G: 0, B: 0},
	{R: 0, G: 255, B: 0},
	{R: 0, G: 0, B: 255},
	{R: 255, G: 255, B: 255},
}

// rgbProbePassesNeeded is how many probe channels must read back within
// tolerance for the mode to count as supported.
const rgbProbePassesNeeded = 3

// CommandRunner executes verified property writes; satisfied by
// command.Executor.
type CommandRunner interface {
	Execute(ctx context.Context, cmd command.Command) (*command.Result, error)
}

// ResultStore persists unit verdicts and run bookkeeping; satisfied by
// Repository.
type ResultStore interface {
	SaveResult(ctx context.Context, res UnitResult) error
	LoadResults(ctx context.Context, spaID string) (map[UnitKey]UnitResult, error)
	CreateRun(ctx context.Context, runID, spaID string, total int, started time.Time) error
	UpdateRun(ctx context.Context, runID string, total, completed int) error
	FinishRun(ctx context.Context, runID string, status RunStatus, completed int, finished time.Time) error
}

// Telemetry receives per-unit outcomes.
type Telemetry interface {
	WriteSweepUnit(zone int, mode, outcome string, level int, elapsed time.Duration)
}

// Logger is the minimal logging interface the engine needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// StartOptions tune one sweep run.
type StartOptions struct {
	// Force retests every unit, ignoring recorded verdicts.
	Force bool
}

// Engine runs capability sweeps. One sweep at a time, enforced by CAS;
// a Start during a run returns ErrSweepRunning without blocking.
type Engine struct {
	gw      gateway.Gateway
	exec    CommandRunner
	guard   *gateway.Guard
	repo    ResultStore
	tracker *Tracker
	cfg     config.SweepConfig
	spaID   string
	log     Logger
	metrics Telemetry

	running  atomic.Bool
	stopReq  atomic.Bool
	onFinish func(Summary)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires a sweep engine. metrics and onFinish may be nil.
func NewEngine(gw gateway.Gateway, exec CommandRunner, guard *gateway.Guard, repo ResultStore, tracker *Tracker, cfg config.SweepConfig, spaID string, log Logger, metrics Telemetry, onFinish func(Summary)) *Engine {
	return &Engine{
		gw:       gw,
		exec:     exec,
		guard:    guard,
		repo:     repo,
		tracker:  tracker,
		cfg:      cfg,
		spaID:    spaID,
		log:      log,
		metrics:  metrics,
		onFinish: onFinish,
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

// Running reports whether a sweep is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Progress returns the tracker's current snapshot.
func (e *Engine) Progress() ProgressSnapshot {
	return e.tracker.Snapshot()
}

// Stop requests a stop at the next unit boundary. The running unit
// finishes, completed units stay persisted, and the pre-sweep state is
// restored. No-op when nothing is running.
func (e *Engine) Stop() {
	if e.running.Load() {
		e.stopReq.Store(true)
		e.log.Info("sweep stop requested")
	}
}

// Start begins a sweep in the background and returns its run ID. The
// pre-sweep snapshot is taken synchronously so the caller learns about
// unreachable spas and empty zone lists immediately.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (string, error) {
	if !e.running.CompareAndSwap(false, true) {
		return "", ErrSweepRunning
	}

	snap, err := e.gw.Snapshot(ctx)
	if err != nil {
		e.running.Store(false)
		return "", err
	}
	zones := lightZones(snap)
	if len(zones) == 0 {
		e.running.Store(false)
		return "", ErrNoZones
	}

	runID := uuid.NewString()
	e.stopReq.Store(false)

	go e.run(ctx, runID, snap, zones, opts)
	return runID, nil
}

func lightZones(snap *gateway.Snapshot) []int {
	var zones []int
	for target := range snap.Components {
		if target.Kind == gateway.KindLight {
			zones = append(zones, target.Zone)
		}
	}
	sort.Ints(zones)
	return zones
}

func (e *Engine) run(ctx context.Context, runID string, preSweep *gateway.Snapshot, zones []int, opts StartOptions) {
	defer e.running.Store(false)
	started := time.Now()

	existing := make(map[UnitKey]UnitResult)
	if !opts.Force {
		loaded, err := e.repo.LoadResults(ctx, e.spaID)
		if err != nil {
			e.log.Warn("could not load recorded results, sweeping everything", "error", err)
		} else {
			existing = loaded
		}
	}

	phase1 := buildModeScan(zones, existing)
	total := len(phase1)
	e.tracker.Reset(total)
	if err := e.repo.CreateRun(ctx, runID, e.spaID, total, started); err != nil {
		e.log.Warn("could not record sweep run", "error", err)
	}

	e.log.Info("sweep started",
		"run_id", runID,
		"zones", len(zones),
		"recorded_units", len(existing),
		"mode_scan_units", len(phase1),
		"force", opts.Force)

	results := make(map[UnitKey]UnitResult, len(existing))
	for k, v := range existing {
		results[k] = v
	}

	completed := 0
	e.tracker.OnPhaseChange(PhaseModeScan)
	stopped := e.runUnits(ctx, runID, phase1, zones, results, &completed, &total)

	if !stopped {
		phase2 := buildLevelScan(zones, results)
		total += len(phase2)
		e.tracker.AddUnits(len(phase2))
		if err := e.repo.UpdateRun(ctx, runID, total, completed); err != nil {
			e.log.Debug("run update failed", "error", err)
		}
		e.tracker.OnPhaseChange(PhaseLevelScan)
		stopped = e.runUnits(ctx, runID, phase2, zones, results, &completed, &total)
	}

	e.tracker.OnPhaseChange(PhaseRestoring)
	e.restore(ctx, preSweep, zones)

	status := RunCompleted
	finalPhase := PhaseComplete
	if stopped {
		status = RunStopped
		finalPhase = PhaseStopped
	}

	finished := time.Now()
	// The run record must land even when the stop came from context
	// cancellation.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.repo.FinishRun(finishCtx, runID, status, completed, finished); err != nil {
		e.log.Warn("could not finalise sweep run", "error", err)
	}
	e.tracker.OnPhaseChange(finalPhase)

	e.log.Info("sweep finished",
		"run_id", runID,
		"status", string(status),
		"completed_units", completed,
		"total_units", total,
		"elapsed", finished.Sub(started))

	if e.onFinish != nil {
		e.onFinish(Summary{
			RunID:      runID,
			SpaID:      e.spaID,
			Status:     status,
			TotalUnits: total,
			Completed:  completed,
			Started:    started,
			Finished:   finished,
		})
	}
}

// runUnits executes a phase's units in order, honouring stop requests
// at unit boundaries. Returns true when the phase was cut short.
func (e *Engine) runUnits(ctx context.Context, runID string, units []UnitKey, zones []int, results map[UnitKey]UnitResult, completed *int, total *int) bool {
	sinceNeutralize := 0
	currentZone := -1

	for _, key := range units {
		if e.stopReq.Load() || ctx.Err() != nil {
			return true
		}

		if currentZone != -1 && key.Zone != currentZone {
			e.neutralize(ctx, zones)
			sinceNeutralize = 0
		}
		currentZone = key.Zone

		e.tracker.OnUnitStart(key)
		res := e.runUnit(ctx, key)
		if res == nil {
			return true
		}

		if err := e.repo.SaveResult(ctx, *res); err != nil {
			e.log.Warn("could not persist unit result", "unit", key.String(), "error", err)
		}
		results[key] = *res
		*completed++
		e.tracker.OnUnitComplete(key, res.Outcome)
		if e.metrics != nil {
			e.metrics.WriteSweepUnit(key.Zone, key.Mode, string(res.Outcome), key.Level, res.Elapsed)
		}
		if err := e.repo.UpdateRun(ctx, runID, *total, *completed); err != nil {
			e.log.Debug("run update failed", "error", err)
		}

		if err := e.sleep(ctx, e.settle()); err != nil {
			return true
		}

		sinceNeutralize++
		if e.cfg.NeutralizeEvery > 0 && sinceNeutralize >= e.cfg.NeutralizeEvery {
			e.neutralize(ctx, zones)
			sinceNeutralize = 0
		}
	}
	return false
}

// runUnit executes one unit to a verdict, pausing and retrying through
// rate limiting. Returns nil only when the context ended.
func (e *Engine) runUnit(ctx context.Context, key UnitKey) *UnitResult {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		var (
			outcome Outcome
			sample  *gateway.RGB
			err     error
		)

		if key.Mode == gateway.ModeFullDynamicRGB && key.Level == canonicalLevel {
			outcome, sample, err = e.probeRGB(ctx, key)
		} else {
			outcome, sample, err = e.testUnit(ctx, key)
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if _, throttled := gateway.IsThrottled(err); throttled {
				if attempt >= e.cfg.ThrottleRetries {
					e.log.Warn("unit abandoned after rate-limit retries",
						"unit", key.String(),
						"attempts", attempt+1)
					return e.verdict(key, OutcomeSkipped, nil, start)
				}
				e.log.Info("sweep paused for rate limit",
					"unit", key.String(),
					"backoff", e.guard.Remaining())
				if e.guard.Wait(ctx) != nil {
					return nil
				}
				continue
			}
			// A busy (target, property) key means something outside the
			// sweep is driving this zone right now. That says nothing
			// about the mode, so retry and then skip rather than record
			// a verdict.
			if command.IsConcurrentAccess(err) {
				if attempt >= e.cfg.ThrottleRetries {
					e.log.Warn("unit abandoned while target busy",
						"unit", key.String(),
						"attempts", attempt+1)
					return e.verdict(key, OutcomeSkipped, nil, start)
				}
				e.log.Info("sweep waiting for busy target", "unit", key.String())
				if e.sleep(ctx, e.settle()) != nil {
					return nil
				}
				continue
			}
			e.log.Warn("unit errored", "unit", key.String(), "error", err)
			return e.verdict(key, OutcomeUnsupported, nil, start)
		}

		return e.verdict(key, outcome, sample, start)
	}
}

// testUnit writes one (mode, level) combination through the verified
// executor. WHITE additionally captures the device's RGB reading once
// confirmed.
func (e *Engine) testUnit(ctx context.Context, key UnitKey) (Outcome, *gateway.RGB, error) {
	res, err := e.exec.Execute(ctx, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindLight, Zone: key.Zone},
		Property: "state",
		Value:    gateway.LightState{Mode: key.Mode, Intensity: key.Level},
	})
	if err != nil {
		return "", nil, err
	}
	if res.Status != command.StatusConfirmed {
		return OutcomeUnsupported, nil, nil
	}

	var sample *gateway.RGB
	if key.Mode == gateway.ModeWhite {
		sample = e.readRGB(ctx, key.Zone)
	}
	return OutcomeSupported, sample, nil
}

// probeRGB tests FULL_DYNAMIC_RGB by writing each probe channel and
// comparing the device's reported colour within tolerance. Enough
// passing channels make the mode supported.
func (e *Engine) probeRGB(ctx context.Context, key UnitKey) (Outcome, *gateway.RGB, error) {
	passes := 0
	var lastRead *gateway.RGB

	for i, channel := range rgbProbeChannels {
		ch := channel
		res, err := e.exec.Execute(ctx, command.Command{
			Target:   gateway.TargetID{Kind: gateway.KindLight, Zone: key.Zone},
			Property: "state",
			Value:    gateway.LightState{Mode: key.Mode, Intensity: key.Level, RGB: &ch},
		})
		if err != nil {
			return "", nil, err
		}
		if res.Status == command.StatusConfirmed {
			if got := e.readRGB(ctx, key.Zone); got != nil {
				lastRead = got
				if channelMatches(ch, *got) {
					passes++
				}
			}
		}
		if i < len(rgbProbeChannels)-1 {
			if err := e.sleep(ctx, e.settle()); err != nil {
				return "", nil, err
			}
		}
	}

	if passes >= rgbProbePassesNeeded {
		return OutcomeSupported, lastRead, nil
	}
	e.log.Debug("rgb probe failed",
		"zone", key.Zone,
		"passes", passes,
		"needed", rgbProbePassesNeeded)
	return OutcomeUnsupported, nil, nil
}

func channelMatches(want, got gateway.RGB) bool {
	within := func(a, b int) bool {
		d := a - b
		if d < 0 {
			d = -d
		}
		return d <= rgbTolerance
	}
	return within(want.R, got.R) && within(want.G, got.G) && within(want.B, got.B)
}

// readRGB fetches the device's currently reported colour channels.
func (e *Engine) readRGB(ctx context.Context, zone int) *gateway.RGB {
	props, err := e.gw.ComponentState(ctx, gateway.TargetID{Kind: gateway.KindLight, Zone: zone})
	if err != nil {
		e.log.Debug("rgb read failed", "zone", zone, "error", err)
		return nil
	}
	r, rok := props.Int("red")
	g, gok := props.Int("green")
	b, bok := props.Int("blue")
	if !rok || !gok || !bok {
		return nil
	}
	return &gateway.RGB{R: r, G: g, B: b}
}

func (e *Engine) verdict(key UnitKey, outcome Outcome, sample *gateway.RGB, start time.Time) *UnitResult {
	return &UnitResult{
		SpaID:     e.spaID,
		Key:       key,
		Outcome:   outcome,
		Sample:    sample,
		Elapsed:   time.Since(start),
		UpdatedAt: time.Now(),
	}
}

// neutralize drives every zone to OFF so residue from earlier units
// cannot colour later verdicts, then holds one settle window.
func (e *Engine) neutralize(ctx context.Context, zones []int) {
	if ctx.Err() != nil {
		return
	}
	e.log.Debug("neutralizing zones", "zones", len(zones))
	for _, zone := range zones {
		if err := e.gw.SetLight(ctx, zone, gateway.LightState{Mode: gateway.ModeOff}); err != nil {
			e.log.Debug("neutralize write failed", "zone", zone, "error", err)
		}
	}
	_ = e.sleep(ctx, e.settle()) //nolint:errcheck
}

// restore writes each zone back to its pre-sweep state, OFF when the
// snapshot held nothing for it. Restoration gets one settle window
// regardless of how the run ended.
func (e *Engine) restore(ctx context.Context, preSweep *gateway.Snapshot, zones []int) {
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settle())
	defer cancel()

	for _, zone := range zones {
		state := gateway.LightState{Mode: gateway.ModeOff}
		if props, ok := preSweep.Components[gateway.TargetID{Kind: gateway.KindLight, Zone: zone}]; ok {
			if mode, mok := props.String("mode"); mok {
				state.Mode = mode
				state.Intensity, _ = props.Int("intensity")
			}
		}
		if err := e.gw.SetLight(restoreCtx, zone, state); err != nil {
			e.log.Warn("pre-sweep restore failed", "zone", zone, "error", err)
		}
	}
}

func (e *Engine) settle() time.Duration {
	return time.Duration(e.cfg.SettleDelay) * time.Second
}
