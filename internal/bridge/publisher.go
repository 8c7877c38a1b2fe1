package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tublink/tublink-core/internal/command"
	"github.com/tublink/tublink-core/internal/errtrack"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/mqtt"
	"github.com/tublink/tublink-core/internal/state"
	"github.com/tublink/tublink-core/internal/sweep"
)

// MQTT is the publishing and subscribing surface the bridge needs;
// satisfied by mqtt.Client.
type MQTT interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishString(topic, payload string, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the minimal logging interface the bridge needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Publisher maps domain events onto the MQTT topic tree.
type Publisher struct {
	mq     MQTT
	topics mqtt.Topics
	spaID  string
	qos    byte
	log    Logger
}

// NewPublisher creates a publisher for one spa.
func NewPublisher(mq MQTT, topics mqtt.Topics, spaID string, qos byte, log Logger) *Publisher {
	return &Publisher{mq: mq, topics: topics, spaID: spaID, qos: qos, log: log}
}

// PublishChanges writes each changed property to its state topic as a
// raw scalar. State topics are retained so late subscribers see the
// current value.
func (p *Publisher) PublishChanges(changes []state.Change) {
	for _, c := range changes {
		topic := p.stateTopic(c.Target, c.Property)
		if topic == "" {
			continue
		}
		if err := p.mq.PublishString(topic, formatScalar(c.Value), p.qos, true); err != nil {
			p.log.Warn("state publish failed", "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) stateTopic(target gateway.TargetID, property string) string {
	switch target.Kind {
	case gateway.KindLight:
		return p.topics.LightProperty(p.spaID, target.Zone, property)
	case gateway.KindPump:
		return p.topics.PumpProperty(p.spaID, target.Zone, property)
	case gateway.KindHeater:
		return p.topics.HeaterProperty(p.spaID, property)
	case gateway.KindStatus:
		return p.topics.SpaStatus(p.spaID, property)
	}
	return ""
}

// formatScalar renders a property value as the raw payload consumers
// see. Floats drop trailing zeros ("38.5", not "38.500000").
func formatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// commandResultPayload is the JSON shape on the command result topic.
type commandResultPayload struct {
	ID        string `json:"id"`
	Target    string `json:"target"`
	Property  string `json:"property"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Elapsed   string `json:"elapsed"`
	Requested string `json:"requested,omitempty"`
	Observed  string `json:"observed,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Time      string `json:"time"`
}

// PublishCommandResult reports a terminal command outcome.
func (p *Publisher) PublishCommandResult(res *command.Result) {
	payload, err := json.Marshal(commandResultPayload{
		ID:        res.ID,
		Target:    res.Target.String(),
		Property:  res.Property,
		Status:    string(res.Status),
		Attempts:  res.Attempts,
		Elapsed:   res.Elapsed.Round(time.Millisecond).String(),
		Requested: formatValue(res.Requested),
		Observed:  formatValue(res.Observed),
		Detail:    res.Detail,
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := p.mq.Publish(p.topics.CommandResult(p.spaID), payload, p.qos, false); err != nil {
		p.log.Warn("command result publish failed", "error", err)
	}
}

// formatValue renders a requested or observed command value for the
// result frame; nil (no successful read) becomes the empty string and
// is omitted.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case gateway.LightState:
		return fmt.Sprintf("%s@%d", val.Mode, val.Intensity)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// commandErrorPayload is the JSON shape on the command error topic.
type commandErrorPayload struct {
	Topic string `json:"topic"`
	Error string `json:"error"`
	Time  string `json:"time"`
}

// PublishCommandError reports a write that never became a command:
// unparseable payload, unknown topic, or a busy target.
func (p *Publisher) PublishCommandError(sourceTopic, message string) {
	payload, err := json.Marshal(commandErrorPayload{
		Topic: sourceTopic,
		Error: message,
		Time:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := p.mq.Publish(p.topics.CommandError(p.spaID), payload, p.qos, false); err != nil {
		p.log.Warn("command error publish failed", "error", err)
	}
}

// PublishDiscoveryStatus reports the sweep lifecycle ("idle",
// "running", "completed", "stopped"), retained.
func (p *Publisher) PublishDiscoveryStatus(status string) {
	if err := p.mq.PublishString(p.topics.DiscoveryStatus(p.spaID), status, p.qos, true); err != nil {
		p.log.Warn("discovery status publish failed", "error", err)
	}
}

// progressPayload is the JSON shape on the discovery progress topic.
type progressPayload struct {
	Phase     string  `json:"phase"`
	Total     int     `json:"total_units"`
	Completed int     `json:"completed_units"`
	Current   string  `json:"current_unit,omitempty"`
	Percent   float64 `json:"percent"`
}

// PublishDiscoveryProgress streams sweep progress.
func (p *Publisher) PublishDiscoveryProgress(snap sweep.ProgressSnapshot) {
	payload, err := json.Marshal(progressPayload{
		Phase:     string(snap.Phase),
		Total:     snap.TotalUnits,
		Completed: snap.CompletedUnits,
		Current:   snap.CurrentUnit,
		Percent:   snap.Percent,
	})
	if err != nil {
		return
	}
	if err := p.mq.Publish(p.topics.DiscoveryProgress(p.spaID), payload, p.qos, false); err != nil {
		p.log.Debug("discovery progress publish failed", "error", err)
	}
}

// summaryPayload is the JSON shape on the discovery result topic.
type summaryPayload struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Total     int    `json:"total_units"`
	Completed int    `json:"completed_units"`
	Started   string `json:"started"`
	Finished  string `json:"finished"`
}

// PublishDiscoveryResult reports a finished sweep run, retained so the
// latest result survives subscriber restarts.
func (p *Publisher) PublishDiscoveryResult(s sweep.Summary) {
	payload, err := json.Marshal(summaryPayload{
		RunID:     s.RunID,
		Status:    string(s.Status),
		Total:     s.TotalUnits,
		Completed: s.Completed,
		Started:   s.Started.UTC().Format(time.RFC3339),
		Finished:  s.Finished.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := p.mq.PublishRetained(p.topics.DiscoveryResult(p.spaID), payload); err != nil {
		p.log.Warn("discovery result publish failed", "error", err)
	}
}

// PublishErrorSummary reports subsystem health, retained.
func (p *Publisher) PublishErrorSummary(s errtrack.Summary) {
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.mq.PublishRetained(p.topics.ErrorSummary(p.spaID), payload); err != nil {
		p.log.Debug("error summary publish failed", "error", err)
	}
}

// lightMetaPayload is the retained JSON advertising a zone's writable
// surface and its discovered modes.
type lightMetaPayload struct {
	Writable []string `json:"writable"`
	Modes    []string `json:"modes,omitempty"`
}

// PublishLightMeta advertises a light zone. modes lists the discovered
// supported modes; nil means no sweep has recorded any yet.
func (p *Publisher) PublishLightMeta(zone int, modes []string) {
	payload, err := json.Marshal(lightMetaPayload{
		Writable: []string{"mode", "intensity"},
		Modes:    modes,
	})
	if err != nil {
		return
	}
	if err := p.mq.PublishRetained(p.topics.LightMeta(p.spaID, zone), payload); err != nil {
		p.log.Debug("light meta publish failed", "zone", zone, "error", err)
	}
}

// metaPayload is the retained JSON for single-instance components.
type metaPayload struct {
	Writable []string `json:"writable"`
}

// PublishPumpMeta advertises a pump zone's writable surface.
func (p *Publisher) PublishPumpMeta(zone int) {
	payload, _ := json.Marshal(metaPayload{Writable: []string{"state"}})
	if err := p.mq.PublishRetained(p.topics.PumpMeta(p.spaID, zone), payload); err != nil {
		p.log.Debug("pump meta publish failed", "zone", zone, "error", err)
	}
}

// PublishHeaterMeta advertises the heater's writable surface.
func (p *Publisher) PublishHeaterMeta() {
	payload, _ := json.Marshal(metaPayload{Writable: []string{"target_temperature", "heat_mode"}})
	if err := p.mq.PublishRetained(p.topics.HeaterMeta(p.spaID), payload); err != nil {
		p.log.Debug("heater meta publish failed", "error", err)
	}
}
