// Tublink Core - Hot Tub Cloud-to-MQTT Bridge
//
// This is the main entry point for the Tublink Core application.
// Tublink mirrors a cloud-connected hot tub onto a local MQTT topic
// tree:
//   - Polled spa state published as retained raw scalars
//   - Verified command execution from _writetopic siblings
//   - Capability sweeps that map what each light zone really supports
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tublink/tublink-core/migrations"

	"github.com/tublink/tublink-core/internal/bridge"
	"github.com/tublink/tublink-core/internal/command"
	"github.com/tublink/tublink-core/internal/errtrack"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
	"github.com/tublink/tublink-core/internal/infrastructure/database"
	"github.com/tublink/tublink-core/internal/infrastructure/influxdb"
	"github.com/tublink/tublink-core/internal/infrastructure/logging"
	"github.com/tublink/tublink-core/internal/infrastructure/mqtt"
	"github.com/tublink/tublink-core/internal/state"
	"github.com/tublink/tublink-core/internal/sweep"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Tublink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// A typed nil inside the interface would dodge the nil guards, so
	// only assign when the client exists.
	var cmdMetrics command.Telemetry
	var sweepMetrics sweep.Telemetry
	var spaMetrics bridge.Telemetry
	if influxClient != nil {
		cmdMetrics = influxClient
		sweepMetrics = influxClient
		spaMetrics = influxClient
	}

	// Cloud gateway with shared throttle guard
	guard := gateway.NewGuard(cfg.GetRateLimitBase(), cfg.GetRateLimitMax())
	spa := gateway.NewClient(cfg.Cloud, guard, log.With("component", "gateway"))
	log.Info("cloud gateway initialised",
		"base_url", cfg.Cloud.BaseURL,
		"spa_id", cfg.Cloud.SpaID,
	)

	// State reconciliation and verified command execution
	reconciler := state.New(log.With("component", "state"))
	policy := command.NewPolicy(cfg.Command)
	executor := command.NewExecutor(spa, guard, policy, reconciler, cfg.Command,
		log.With("component", "command"), cmdMetrics)

	// MQTT topic tree, fault tracking, publishing
	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
	qos := byte(cfg.MQTT.QoS)
	faults := errtrack.New()
	publisher := bridge.NewPublisher(mqttClient, topics, cfg.Cloud.SpaID, qos,
		log.With("component", "publisher"))

	// Capability sweep engine. Completion is reported through the bridge,
	// which is constructed below; the engine only fires the callback once
	// a sweep has been started over MQTT, long after wiring completes.
	var core *bridge.Bridge
	repo := sweep.NewRepository(db)
	tracker := sweep.NewTracker(publisher.PublishDiscoveryProgress)
	engine := sweep.NewEngine(spa, executor, guard, repo, tracker, cfg.Sweep,
		cfg.Cloud.SpaID, log.With("component", "sweep"), sweepMetrics,
		func(s sweep.Summary) { core.PublishSweepFinished(s) })

	intake := bridge.NewIntake(mqttClient, topics, cfg.Cloud.SpaID, qos,
		executor, reconciler, engine, publisher, faults,
		log.With("component", "intake"))
	core = bridge.New(cfg, spa, reconciler, publisher, intake, faults, repo,
		spaMetrics, log.With("component", "bridge"))

	// Broker reconnects invalidate retained state assumptions
	mqttClient.SetOnConnect(func() {
		core.OnReconnect()
	})

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, starting bridge",
		"poll_interval", cfg.GetPollInterval(),
	)

	// Blocks until the context is cancelled
	if err := core.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge stopped: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. InfluxDB (if enabled)
	// 2. MQTT
	// 3. Database

	log.Info("Tublink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TUBLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TUBLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Cloud gateway health is verified by the bridge's first poll; a
	// failed poll is tracked and retried rather than fatal, since the
	// vendor API has routine outages.

	return nil
}
