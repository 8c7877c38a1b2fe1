package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/tublink/tublink-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "tublink-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS:       1,
		BaseTopic: "tublink",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Publish("test/topic", []byte("test"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	client := &Client{}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("test/topic", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := &Client{}

	err := client.Publish("test/topic", []byte("test"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := &Client{}

	err := client.Subscribe("test/topic", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeDisconnectedNotTracked(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	err := client.Subscribe("tublink/+/lights/+/mode_writetopic", 1,
		func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	// A rejected subscription must not enter the reconnect replay set.
	if len(client.subscriptions) != 0 {
		t.Errorf("tracked subscriptions = %d, want 0", len(client.subscriptions))
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "spa"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker URL, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "tublink-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "tublink-test")
	}
	if opts.Username != "spa" {
		t.Errorf("Username = %q, want %q", opts.Username, "spa")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want %q", got, "ssl")
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig should be set when TLS is enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	configureLWT(opts, cfg)

	if !opts.WillEnabled {
		t.Fatal("LWT should be enabled")
	}
	if opts.WillTopic != "tublink/bridge/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "tublink/bridge/status")
	}
	if !opts.WillRetained {
		t.Error("LWT should be retained")
	}
	payload := string(opts.WillPayload)
	if !strings.Contains(payload, `"status":"offline"`) {
		t.Errorf("WillPayload missing offline status: %s", payload)
	}
	if !strings.Contains(payload, `"unexpected_disconnect"`) {
		t.Errorf("WillPayload missing disconnect reason: %s", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("tublink-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, `"client_id":"tublink-test"`) {
		t.Errorf("online payload missing client_id: %s", online)
	}

	offline := buildOfflinePayload("tublink-test")
	if !strings.Contains(offline, `"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Base: "tublink"}

	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "LightProperty",
			builder: func() string {
				return topics.LightProperty("spa-01", 2, "mode")
			},
			expected: "tublink/spa-01/lights/2/mode",
		},
		{
			name: "LightWrite",
			builder: func() string {
				return topics.LightWrite("spa-01", 2, "mode")
			},
			expected: "tublink/spa-01/lights/2/mode_writetopic",
		},
		{
			name: "LightMeta",
			builder: func() string {
				return topics.LightMeta("spa-01", 2)
			},
			expected: "tublink/spa-01/lights/2/meta",
		},
		{
			name: "PumpProperty",
			builder: func() string {
				return topics.PumpProperty("spa-01", 1, "state")
			},
			expected: "tublink/spa-01/pumps/1/state",
		},
		{
			name: "PumpWrite",
			builder: func() string {
				return topics.PumpWrite("spa-01", 1, "state")
			},
			expected: "tublink/spa-01/pumps/1/state_writetopic",
		},
		{
			name: "PumpMeta",
			builder: func() string {
				return topics.PumpMeta("spa-01", 1)
			},
			expected: "tublink/spa-01/pumps/1/meta",
		},
		{
			name: "HeaterProperty",
			builder: func() string {
				return topics.HeaterProperty("spa-01", "target_temperature")
			},
			expected: "tublink/spa-01/heater/target_temperature",
		},
		{
			name: "HeaterWrite",
			builder: func() string {
				return topics.HeaterWrite("spa-01", "target_temperature")
			},
			expected: "tublink/spa-01/heater/target_temperature_writetopic",
		},
		{
			name: "HeaterMeta",
			builder: func() string {
				return topics.HeaterMeta("spa-01")
			},
			expected: "tublink/spa-01/heater/meta",
		},
		{
			name: "SpaStatus",
			builder: func() string {
				return topics.SpaStatus("spa-01", "water_temperature")
			},
			expected: "tublink/spa-01/status/water_temperature",
		},
		{
			name: "CommandResult",
			builder: func() string {
				return topics.CommandResult("spa-01")
			},
			expected: "tublink/spa-01/command/result",
		},
		{
			name: "CommandError",
			builder: func() string {
				return topics.CommandError("spa-01")
			},
			expected: "tublink/spa-01/command/error",
		},
		{
			name: "DiscoveryCommand",
			builder: func() string {
				return topics.DiscoveryCommand("spa-01")
			},
			expected: "tublink/spa-01/discovery/command",
		},
		{
			name: "DiscoveryStatus",
			builder: func() string {
				return topics.DiscoveryStatus("spa-01")
			},
			expected: "tublink/spa-01/discovery/status",
		},
		{
			name: "DiscoveryProgress",
			builder: func() string {
				return topics.DiscoveryProgress("spa-01")
			},
			expected: "tublink/spa-01/discovery/progress",
		},
		{
			name: "DiscoveryResult",
			builder: func() string {
				return topics.DiscoveryResult("spa-01")
			},
			expected: "tublink/spa-01/discovery/result",
		},
		{
			name: "BridgeStatus",
			builder: func() string {
				return topics.BridgeStatus()
			},
			expected: "tublink/bridge/status",
		},
		{
			name: "ErrorSummary",
			builder: func() string {
				return topics.ErrorSummary("spa-01")
			},
			expected: "tublink/spa-01/errors",
		},
		{
			name: "AllLightWrites",
			builder: func() string {
				return topics.AllLightWrites("mode")
			},
			expected: "tublink/+/lights/+/mode_writetopic",
		},
		{
			name: "AllPumpWrites",
			builder: func() string {
				return topics.AllPumpWrites("state")
			},
			expected: "tublink/+/pumps/+/state_writetopic",
		},
		{
			name: "AllHeaterWrites",
			builder: func() string {
				return topics.AllHeaterWrites("target_temperature")
			},
			expected: "tublink/+/heater/target_temperature_writetopic",
		},
		{
			name: "AllDiscoveryCommands",
			builder: func() string {
				return topics.AllDiscoveryCommands()
			},
			expected: "tublink/+/discovery/command",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return topics.AllTopics()
			},
			expected: "tublink/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestTopicBuilders_DefaultBase(t *testing.T) {
	// A zero-value Topics falls back to the default base prefix.
	got := Topics{}.LightProperty("spa-01", 1, "mode")
	want := "tublink/spa-01/lights/1/mode"
	if got != want {
		t.Errorf("LightProperty() = %q, want %q", got, want)
	}
}

func TestTopicBuilders_CustomBase(t *testing.T) {
	got := Topics{Base: "home/spa"}.LightWrite("spa-01", 1, "intensity")
	want := "home/spa/spa-01/lights/1/intensity_writetopic"
	if got != want {
		t.Errorf("LightWrite() = %q, want %q", got, want)
	}
}
