package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tublink/tublink-core/internal/command"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// =============================================================================
// Fakes
// =============================================================================

type testLogger struct{}

func (testLogger) Info(msg string, args ...any)  {}
func (testLogger) Warn(msg string, args ...any)  {}
func (testLogger) Debug(msg string, args ...any) {}

// fakeGW serves the pre-sweep snapshot, echoes probed colours, and
// records direct light writes (neutralize and restore).
type fakeGW struct {
	mu          sync.Mutex
	snap        *gateway.Snapshot
	rgb         map[int]gateway.RGB
	lightWrites []gateway.LightState
}

func newFakeGW(zones ...int) *fakeGW {
	snap := &gateway.Snapshot{
		SpaID:      "spa-001",
		Taken:      time.Now(),
		Components: make(map[gateway.TargetID]gateway.Properties),
	}
	for _, z := range zones {
		snap.Components[gateway.TargetID{Kind: gateway.KindLight, Zone: z}] =
			gateway.Properties{"mode": "PURPLE", "intensity": 40}
	}
	return &fakeGW{snap: snap, rgb: make(map[int]gateway.RGB)}
}

func (f *fakeGW) setRGB(zone int, rgb gateway.RGB) {
	f.mu.Lock()
	f.rgb[zone] = rgb
	f.mu.Unlock()
}

func (f *fakeGW) Snapshot(ctx context.Context) (*gateway.Snapshot, error) {
	return f.snap.DeepCopy(), nil
}

func (f *fakeGW) ComponentState(ctx context.Context, target gateway.TargetID) (gateway.Properties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rgb := f.rgb[target.Zone]
	return gateway.Properties{"red": rgb.R, "green": rgb.G, "blue": rgb.B}, nil
}

func (f *fakeGW) SetLight(ctx context.Context, zone int, state gateway.LightState) error {
	f.mu.Lock()
	f.lightWrites = append(f.lightWrites, state)
	f.mu.Unlock()
	return nil
}

func (f *fakeGW) SetHeater(ctx context.Context, tempC float64) error { return nil }
func (f *fakeGW) SetHeatMode(ctx context.Context, mode string) error { return nil }
func (f *fakeGW) TogglePump(ctx context.Context, zone int) error     { return nil }

// fakeRunner routes executed commands through a per-test respond hook.
type fakeRunner struct {
	mu       sync.Mutex
	commands []command.Command
	respond  func(cmd command.Command) (*command.Result, error)
}

func (f *fakeRunner) Execute(ctx context.Context, cmd command.Command) (*command.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(cmd)
	}
	return &command.Result{Target: cmd.Target, Property: cmd.Property, Status: command.StatusConfirmed}, nil
}

func (f *fakeRunner) commandModes() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, c := range f.commands {
		if ls, ok := c.Value.(gateway.LightState); ok {
			out[ls.Mode]++
		}
	}
	return out
}

// fakeStore is the in-memory result store.
type fakeStore struct {
	mu       sync.Mutex
	preload  map[UnitKey]UnitResult
	saved    map[UnitKey]UnitResult
	finished RunStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[UnitKey]UnitResult)}
}

func (f *fakeStore) SaveResult(ctx context.Context, res UnitResult) error {
	if res.Outcome == OutcomeSkipped {
		return nil
	}
	f.mu.Lock()
	f.saved[res.Key] = res
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) LoadResults(ctx context.Context, spaID string) (map[UnitKey]UnitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[UnitKey]UnitResult, len(f.preload))
	for k, v := range f.preload {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, runID, spaID string, total int, started time.Time) error {
	return nil
}

func (f *fakeStore) UpdateRun(ctx context.Context, runID string, total, completed int) error {
	return nil
}

func (f *fakeStore) FinishRun(ctx context.Context, runID string, status RunStatus, completed int, finished time.Time) error {
	f.mu.Lock()
	f.finished = status
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) savedResult(key UnitKey) (UnitResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.saved[key]
	return res, ok
}

func testSweepConfig() config.SweepConfig {
	return config.SweepConfig{SettleDelay: 1, NeutralizeEvery: 10, ThrottleRetries: 2}
}

func newTestEngine(t *testing.T, gw *fakeGW, runner *fakeRunner, store *fakeStore) (*Engine, chan Summary) {
	t.Helper()
	done := make(chan Summary, 1)
	e := NewEngine(gw, runner, gateway.NewGuard(time.Millisecond, 10*time.Millisecond),
		store, NewTracker(nil), testSweepConfig(), "spa-001", testLogger{}, nil,
		func(s Summary) { done <- s })
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e, done
}

func waitForSummary(t *testing.T, done chan Summary) Summary {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("sweep did not finish")
		return Summary{}
	}
}

// =============================================================================
// Full Run Tests
// =============================================================================

func TestSweep_FullRunAllSupported(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	// Echo probed colours back so the RGB probe passes every channel.
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		if ls, ok := cmd.Value.(gateway.LightState); ok && ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary := waitForSummary(t, done)

	if summary.Status != RunCompleted {
		t.Errorf("status = %v, want completed", summary.Status)
	}

	modes := gateway.AllLightModes()
	// Phase 1: every mode once. Phase 2: three extra levels for every
	// mode except OFF.
	wantTotal := len(modes) + (len(modes)-1)*len(extraLevels)
	if summary.TotalUnits != wantTotal || summary.Completed != wantTotal {
		t.Errorf("units = %d/%d, want %d/%d",
			summary.Completed, summary.TotalUnits, wantTotal, wantTotal)
	}
	if len(store.saved) != wantTotal {
		t.Errorf("persisted = %d, want %d", len(store.saved), wantTotal)
	}

	res, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeFullDynamicRGB, Level: canonicalLevel})
	if !ok || res.Outcome != OutcomeSupported {
		t.Errorf("rgb probe result = %+v", res)
	}
	if e.Running() {
		t.Error("Running() = true after completion")
	}
}

func TestSweep_FailingUnitDoesNotHaltRun(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		ls := cmd.Value.(gateway.LightState)
		if ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		if ls.Mode == gateway.ModeRed {
			return &command.Result{Status: command.StatusRolledBack}, nil
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary := waitForSummary(t, done)

	if summary.Status != RunCompleted {
		t.Errorf("status = %v, want completed despite a failing unit", summary.Status)
	}

	res, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeRed, Level: canonicalLevel})
	if !ok || res.Outcome != OutcomeUnsupported {
		t.Errorf("RED result = %+v, want unsupported", res)
	}
	// An unsupported mode earns no level scan.
	if _, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeRed, Level: 50}); ok {
		t.Error("level scan ran for an unsupported mode")
	}
	// Its neighbours still completed.
	if res, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeBlue, Level: 50}); !ok || res.Outcome != OutcomeSupported {
		t.Errorf("BLUE level result = %+v, want supported", res)
	}
}

// =============================================================================
// Singleton Tests
// =============================================================================

func TestStart_WhileRunning(t *testing.T) {
	gw := newFakeGW(1)
	gate := make(chan struct{})
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		<-gate
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := e.Start(context.Background(), StartOptions{}); err != ErrSweepRunning {
		t.Errorf("second Start() error = %v, want ErrSweepRunning", err)
	}

	e.Stop()
	close(gate)
	waitForSummary(t, done)

	// After the run ends a new sweep may start.
	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Errorf("Start() after finish error = %v", err)
	}
	waitForSummary(t, done)
}

// =============================================================================
// Stop Tests
// =============================================================================

func TestStop_UnitBoundaryAndRestore(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	store := newFakeStore()
	var e *Engine
	count := 0
	var mu sync.Mutex
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		mu.Lock()
		count++
		if count == 3 {
			e.Stop()
		}
		mu.Unlock()
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary := waitForSummary(t, done)

	if summary.Status != RunStopped {
		t.Errorf("status = %v, want stopped", summary.Status)
	}
	// The unit in flight when Stop landed still finished; nothing after
	// it started.
	if summary.Completed != 3 {
		t.Errorf("completed = %d, want 3", summary.Completed)
	}
	if len(store.saved) != 3 {
		t.Errorf("persisted = %d, want only the 3 completed units", len(store.saved))
	}
	if store.finished != RunStopped {
		t.Errorf("run record status = %v, want stopped", store.finished)
	}

	// Restore wrote the pre-sweep state back.
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.lightWrites) == 0 {
		t.Fatal("no restore write recorded")
	}
	last := gw.lightWrites[len(gw.lightWrites)-1]
	if last.Mode != "PURPLE" || last.Intensity != 40 {
		t.Errorf("restore wrote %+v, want pre-sweep PURPLE/40", last)
	}
}

// =============================================================================
// Throttle Tests
// =============================================================================

func TestSweep_ThrottledUnitSkippedAfterRetries(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		ls := cmd.Value.(gateway.LightState)
		if ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		if ls.Mode == gateway.ModeGreen {
			return nil, &gateway.ThrottledError{}
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary := waitForSummary(t, done)

	if summary.Status != RunCompleted {
		t.Errorf("status = %v, want completed", summary.Status)
	}
	// ThrottleRetries(2) + the first attempt = 3 tries, then abandoned.
	if got := runner.commandModes()[gateway.ModeGreen]; got != 3 {
		t.Errorf("GREEN attempts = %d, want 3", got)
	}
	// A skipped unit carries no verdict and must be retested next run.
	if _, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeGreen, Level: canonicalLevel}); ok {
		t.Error("skipped unit was persisted")
	}
}

func TestSweep_BusyTargetSkippedWithoutVerdict(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	// A manual write holds the (target, property) key for the whole run:
	// every GREEN attempt finds the executor busy.
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		ls := cmd.Value.(gateway.LightState)
		if ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		if ls.Mode == gateway.ModeGreen {
			return nil, &command.ConcurrentAccessError{Target: cmd.Target, Property: "state"}
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	summary := waitForSummary(t, done)

	if summary.Status != RunCompleted {
		t.Errorf("status = %v, want completed past the busy unit", summary.Status)
	}
	// ThrottleRetries(2) + the first attempt = 3 tries, then skipped.
	if got := runner.commandModes()[gateway.ModeGreen]; got != 3 {
		t.Errorf("GREEN attempts = %d, want 3", got)
	}
	// A transient collision is not evidence about the mode: no verdict
	// may be recorded, supported or not.
	if res, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeGreen, Level: canonicalLevel}); ok {
		t.Errorf("busy unit persisted as %v, want no verdict", res.Outcome)
	}
	// Neighbours still got their verdicts.
	if res, _ := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeBlue, Level: canonicalLevel}); res.Outcome != OutcomeSupported {
		t.Errorf("BLUE result = %v, want supported", res.Outcome)
	}
}

// =============================================================================
// Resume Tests
// =============================================================================

func TestSweep_ResumeSkipsRecordedUnits(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		if ls := cmd.Value.(gateway.LightState); ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	store.preload = map[UnitKey]UnitResult{
		{Zone: 1, Mode: gateway.ModeRed, Level: canonicalLevel}: {Outcome: OutcomeSupported},
		{Zone: 1, Mode: gateway.ModeRed, Level: 25}:             {Outcome: OutcomeSupported},
		{Zone: 1, Mode: gateway.ModeRed, Level: 50}:             {Outcome: OutcomeSupported},
		{Zone: 1, Mode: gateway.ModeRed, Level: 75}:             {Outcome: OutcomeSupported},
	}
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForSummary(t, done)

	if got := runner.commandModes()[gateway.ModeRed]; got != 0 {
		t.Errorf("RED commands = %d, want 0 on resume", got)
	}
}

func TestSweep_ForceRetestsEverything(t *testing.T) {
	gw := newFakeGW(1)
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		if ls := cmd.Value.(gateway.LightState); ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	store.preload = map[UnitKey]UnitResult{
		{Zone: 1, Mode: gateway.ModeRed, Level: canonicalLevel}: {Outcome: OutcomeUnsupported},
	}
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{Force: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForSummary(t, done)

	if got := runner.commandModes()[gateway.ModeRed]; got == 0 {
		t.Error("forced sweep did not retest the recorded unit")
	}
	// The fresh verdict overwrote the stale one.
	if res, _ := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeRed, Level: canonicalLevel}); res.Outcome != OutcomeSupported {
		t.Errorf("RED verdict = %v, want overwritten to supported", res.Outcome)
	}
}

// =============================================================================
// RGB Probe Tests
// =============================================================================

func TestSweep_RGBProbeFailsWithoutEcho(t *testing.T) {
	gw := newFakeGW(1)
	// The device always reports black: every probe channel misses.
	gw.setRGB(1, gateway.RGB{})
	runner := &fakeRunner{}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForSummary(t, done)

	res, ok := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeFullDynamicRGB, Level: canonicalLevel})
	if !ok || res.Outcome != OutcomeUnsupported {
		t.Errorf("rgb probe result = %+v, want unsupported", res)
	}
	// Other modes confirmed as usual.
	if res, _ := store.savedResult(UnitKey{Zone: 1, Mode: gateway.ModeBlue, Level: canonicalLevel}); res.Outcome != OutcomeSupported {
		t.Errorf("BLUE result = %v, want supported", res.Outcome)
	}
}

// =============================================================================
// Neutralization Tests
// =============================================================================

func TestSweep_NeutralizesAtZoneBoundary(t *testing.T) {
	gw := newFakeGW(1, 2)
	runner := &fakeRunner{}
	runner.respond = func(cmd command.Command) (*command.Result, error) {
		if ls := cmd.Value.(gateway.LightState); ls.RGB != nil {
			gw.setRGB(cmd.Target.Zone, *ls.RGB)
		}
		return &command.Result{Status: command.StatusConfirmed}, nil
	}
	store := newFakeStore()
	e, done := newTestEngine(t, gw, runner, store)

	if _, err := e.Start(context.Background(), StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForSummary(t, done)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	offWrites := 0
	for _, w := range gw.lightWrites {
		if w.Mode == gateway.ModeOff {
			offWrites++
		}
	}
	// Each zone boundary neutralizes both zones: at least the phase 1
	// and phase 2 boundaries.
	if offWrites < 4 {
		t.Errorf("OFF writes = %d, want at least 4 from boundary neutralization", offWrites)
	}
}
