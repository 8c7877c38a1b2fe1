package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tublink/tublink-core/internal/command"
	"github.com/tublink/tublink-core/internal/errtrack"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/mqtt"
	"github.com/tublink/tublink-core/internal/state"
	"github.com/tublink/tublink-core/internal/sweep"
)

// Temperature bounds accepted on the heater write topic, Celsius.
const (
	minTargetTemp = 10.0
	maxTargetTemp = 40.0
)

// defaultIntensity is used when a mode write arrives for a zone whose
// intensity has never been observed.
const defaultIntensity = 100

// Runner executes verified commands; satisfied by command.Executor.
type Runner interface {
	Execute(ctx context.Context, cmd command.Command) (*command.Result, error)
}

// Sweeper controls capability discovery; satisfied by sweep.Engine.
type Sweeper interface {
	Start(ctx context.Context, opts sweep.StartOptions) (string, error)
	Stop()
	Running() bool
}

// Intake subscribes to the write topics and turns accepted payloads
// into executor commands.
type Intake struct {
	mq      MQTT
	topics  mqtt.Topics
	spaID   string
	qos     byte
	run     Runner
	rec     *state.Reconciler
	sweeper Sweeper
	pub     *Publisher
	errs    *errtrack.Tracker
	log     Logger

	ctx context.Context // base context for asynchronous command execution
}

// NewIntake wires the write-topic handlers. Start must be called before
// any message is handled.
func NewIntake(mq MQTT, topics mqtt.Topics, spaID string, qos byte, run Runner, rec *state.Reconciler, sweeper Sweeper, pub *Publisher, errs *errtrack.Tracker, log Logger) *Intake {
	return &Intake{
		mq:      mq,
		topics:  topics,
		spaID:   spaID,
		qos:     qos,
		run:     run,
		rec:     rec,
		sweeper: sweeper,
		pub:     pub,
		errs:    errs,
		log:     log,
	}
}

// Start subscribes every write topic. ctx bounds the lifetime of
// commands dispatched from incoming messages.
func (i *Intake) Start(ctx context.Context) error {
	i.ctx = ctx

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{i.topics.AllLightWrites("mode"), i.handleLightMode},
		{i.topics.AllLightWrites("intensity"), i.handleLightIntensity},
		{i.topics.AllPumpWrites("state"), i.handlePumpState},
		{i.topics.AllHeaterWrites("target_temperature"), i.handleHeaterTemp},
		{i.topics.AllHeaterWrites("heat_mode"), i.handleHeatMode},
		{i.topics.AllDiscoveryCommands(), i.handleDiscovery},
	}
	for _, s := range subs {
		if err := i.mq.Subscribe(s.topic, i.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing %s: %w", s.topic, err)
		}
	}
	return nil
}

func (i *Intake) handleLightMode(topic string, payload []byte) error {
	zone, ok := i.zoneFromTopic(topic, "lights")
	if !ok {
		return nil
	}
	mode := strings.ToUpper(strings.TrimSpace(string(payload)))
	if !validLightMode(mode) {
		i.reject(topic, fmt.Sprintf("unrecognised mode %q", mode))
		return nil
	}

	ls := gateway.LightState{Mode: mode, Intensity: defaultIntensity}
	if mode == gateway.ModeOff {
		ls.Intensity = 0
	} else if props, found := i.rec.Current(gateway.TargetID{Kind: gateway.KindLight, Zone: zone}); found {
		if cur, has := props.Int("intensity"); has && cur > 0 {
			ls.Intensity = cur
		}
	}

	i.dispatch(topic, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindLight, Zone: zone},
		Property: "state",
		Value:    ls,
	})
	return nil
}

func (i *Intake) handleLightIntensity(topic string, payload []byte) error {
	zone, ok := i.zoneFromTopic(topic, "lights")
	if !ok {
		return nil
	}
	intensity, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil || intensity < 0 || intensity > 100 {
		i.reject(topic, fmt.Sprintf("intensity must be 0-100, got %q", payload))
		return nil
	}

	// An intensity write keeps the current mode. Without a known mode
	// there is nothing sensible to pair it with.
	props, found := i.rec.Current(gateway.TargetID{Kind: gateway.KindLight, Zone: zone})
	if !found {
		i.reject(topic, "zone state unknown, write a mode first")
		return nil
	}
	mode, has := props.String("mode")
	if !has {
		i.reject(topic, "zone mode unknown, write a mode first")
		return nil
	}

	i.dispatch(topic, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindLight, Zone: zone},
		Property: "state",
		Value:    gateway.LightState{Mode: mode, Intensity: intensity},
	})
	return nil
}

func (i *Intake) handlePumpState(topic string, payload []byte) error {
	zone, ok := i.zoneFromTopic(topic, "pumps")
	if !ok {
		return nil
	}
	want := strings.ToUpper(strings.TrimSpace(string(payload)))
	switch want {
	case "OFF", "LOW", "HIGH":
	default:
		i.reject(topic, fmt.Sprintf("pump state must be OFF, LOW or HIGH, got %q", payload))
		return nil
	}

	i.dispatch(topic, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindPump, Zone: zone},
		Property: "state",
		Value:    want,
	})
	return nil
}

func (i *Intake) handleHeaterTemp(topic string, payload []byte) error {
	if !i.topicForThisSpa(topic) {
		return nil
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || temp < minTargetTemp || temp > maxTargetTemp {
		i.reject(topic, fmt.Sprintf("target temperature must be %.0f-%.0f°C, got %q",
			minTargetTemp, maxTargetTemp, payload))
		return nil
	}

	i.dispatch(topic, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindHeater},
		Property: "target_temperature",
		Value:    temp,
	})
	return nil
}

func (i *Intake) handleHeatMode(topic string, payload []byte) error {
	if !i.topicForThisSpa(topic) {
		return nil
	}
	mode := strings.ToUpper(strings.TrimSpace(string(payload)))
	if !validHeatMode(mode) {
		i.reject(topic, fmt.Sprintf("unrecognised heat mode %q", payload))
		return nil
	}

	i.dispatch(topic, command.Command{
		Target:   gateway.TargetID{Kind: gateway.KindHeater},
		Property: "heat_mode",
		Value:    mode,
	})
	return nil
}

func (i *Intake) handleDiscovery(topic string, payload []byte) error {
	if !i.topicForThisSpa(topic) {
		return nil
	}
	action := strings.ToLower(strings.TrimSpace(string(payload)))
	switch action {
	case "start", "force":
		_, err := i.sweeper.Start(i.ctx, sweep.StartOptions{Force: action == "force"})
		if err != nil {
			i.reject(topic, err.Error())
			return nil
		}
		i.pub.PublishDiscoveryStatus("running")
	case "stop":
		i.sweeper.Stop()
	default:
		i.reject(topic, fmt.Sprintf("unrecognised discovery action %q", payload))
	}
	return nil
}

// dispatch runs a command asynchronously; the MQTT handler must not
// block for the full verification cycle.
func (i *Intake) dispatch(sourceTopic string, cmd command.Command) {
	go func() {
		res, err := i.run.Execute(i.ctx, cmd)
		if err != nil {
			i.reject(sourceTopic, err.Error())
			return
		}
		i.pub.PublishCommandResult(res)
		if res.Status != command.StatusConfirmed {
			i.errs.Record(errtrack.CategoryCommand, errtrack.SeverityWarning,
				fmt.Sprintf("%s %s: %s (requested %s, observed %s, attempts %d)",
					cmd.Target, cmd.Property, res.Status,
					formatValue(res.Requested), formatValue(res.Observed), res.Attempts))
			return
		}
		// Confirmed values go out immediately; the next poll would
		// publish nothing since the reconciler already holds them.
		i.pub.PublishChanges(confirmedChanges(cmd))
	}()
}

// confirmedChanges expands a confirmed command into the state topics it
// settles.
func confirmedChanges(cmd command.Command) []state.Change {
	if cmd.Target.Kind == gateway.KindLight && cmd.Property == "state" {
		ls := cmd.Value.(gateway.LightState)
		return []state.Change{
			{Target: cmd.Target, Property: "intensity", Value: ls.Intensity},
			{Target: cmd.Target, Property: "mode", Value: ls.Mode},
		}
	}
	if cmd.Target.Kind == gateway.KindPump && cmd.Property == "state" {
		return []state.Change{{Target: cmd.Target, Property: "state", Value: cmd.Value}}
	}
	return []state.Change{{Target: cmd.Target, Property: cmd.Property, Value: cmd.Value}}
}

// reject publishes a command error and records the fault.
func (i *Intake) reject(sourceTopic, message string) {
	i.log.Warn("write rejected", "topic", sourceTopic, "reason", message)
	i.errs.Record(errtrack.CategoryCommand, errtrack.SeverityWarning, message)
	i.pub.PublishCommandError(sourceTopic, message)
}

// zoneFromTopic extracts the zone number from a write topic of the
// shape {base}/{spa}/{collection}/{zone}/{property}_writetopic, and
// filters out messages for other spas matched by the wildcard.
func (i *Intake) zoneFromTopic(topic, collection string) (int, bool) {
	parts := strings.Split(topic, "/")
	for idx, part := range parts {
		if part != collection {
			continue
		}
		if idx == 0 || parts[idx-1] != i.spaID {
			return 0, false
		}
		if idx+1 >= len(parts) {
			return 0, false
		}
		zone, err := strconv.Atoi(parts[idx+1])
		if err != nil {
			i.reject(topic, fmt.Sprintf("unparseable zone %q", parts[idx+1]))
			return 0, false
		}
		return zone, true
	}
	return 0, false
}

// topicForThisSpa filters wildcard matches down to the configured spa.
func (i *Intake) topicForThisSpa(topic string) bool {
	return strings.Contains(topic, "/"+i.spaID+"/")
}

func validLightMode(mode string) bool {
	for _, m := range gateway.AllLightModes() {
		if m == mode {
			return true
		}
	}
	return false
}

func validHeatMode(mode string) bool {
	for _, m := range gateway.AllHeatModes() {
		if m == mode {
			return true
		}
	}
	return false
}
