// Rackwise Core - rack monitoring middleware
//
// This is the main entry point for the Rackwise Core application. It
// ingests gateway telemetry over MQTT, decodes the binary and
// structured protocol families, tracks per-sensor state, and fans the
// canonical records out to the HTTP API, WebSocket clients, SQLite
// history, HTTP callbacks, the optional InfluxDB sink and the MQTT
// relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/rackwise/rackwise-core/migrations"

	"github.com/rackwise/rackwise-core/internal/api"
	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
	"github.com/rackwise/rackwise-core/internal/infrastructure/config"
	"github.com/rackwise/rackwise-core/internal/infrastructure/database"
	"github.com/rackwise/rackwise-core/internal/infrastructure/influxdb"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
	"github.com/rackwise/rackwise-core/internal/infrastructure/mqtt"
	"github.com/rackwise/rackwise-core/internal/pipeline"
	"github.com/rackwise/rackwise-core/internal/relay"
	"github.com/rackwise/rackwise-core/internal/sink"
	"github.com/rackwise/rackwise-core/internal/state"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// decoderVersion tags records with the wire decoder revision.
const decoderVersion = "1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Rackwise Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open database and run migrations (optional)
	var db *database.DB
	var history *sink.HistoryStore
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		history = sink.NewHistoryStore(db)
	} else {
		log.Info("database disabled, history persistence off")
	}

	// Latest-record cache
	cache := sink.NewCache(log, cfg.Cache.MaxSize, cfg.GetCacheTTL())
	cache.Start()
	defer cache.Stop()

	// Batched write path
	var buffer *sink.WriteBuffer
	if history != nil {
		buffer = sink.NewWriteBuffer(log, history, true,
			cfg.WriteBuffer.MaxSize, cfg.WriteBuffer.MaxRetries, cfg.GetFlushInterval())
		buffer.Start(ctx)
	}

	// State tracking and record assembly
	engine := state.NewEngine(log)
	builder := canonical.NewBuilder(decoderVersion, version)

	// Frame decoders
	registry := decode.NewRegistry()
	registry.Register("FamilyB/", decode.DeviceKindB, decode.NewFamilyBDecoder())
	registry.Register("FamilyT/", decode.DeviceKindT, decode.NewFamilyTDecoder())

	// Message relay
	msgRelay, err := relay.New(log, cfg.Relay.Enabled, cfg.Relay.Patterns, cfg.Relay.TopicPrefix)
	if err != nil {
		return fmt.Errorf("compiling relay rules: %w", err)
	}

	// HTTP callbacks
	callbacks := sink.NewCallbacks(log, cfg.Callbacks.Enabled, cfg.Callbacks.URLs,
		cfg.Callbacks.RetryLimit, cfg.GetCallbackRetryDelay())

	// Connect to MQTT broker. A slow broker yields a degraded client
	// that keeps retrying in the background.
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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", cfg.MQTT.URL)
	})
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event bus and pipeline
	bus := pipeline.NewBus(log)
	bus.Subscribe(pipeline.EventBatchStored, func(e pipeline.Event) {
		log.Debug("batch stored", "count", e.Payload)
	})
	if buffer != nil {
		buffer.OnBatchStored(func(count int) {
			bus.Publish(pipeline.EventBatchStored, count)
		})
	}
	cache.OnExpired(func(key string) {
		bus.Publish(pipeline.EventExpired, key)
	})

	opts := pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		QueueSize:       cfg.Pipeline.QueueSize,
		ShutdownTimeout: cfg.GetShutdownTimeout(),
		RelayQoS:        byte(cfg.MQTT.QoS),
		Relay:           msgRelay,
		Cache:           cache,
		Buffer:          buffer,
		Callbacks:       callbacks,
		Publisher:       mqttClient,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	// HTTP API server; its WebSocket hub doubles as the pipeline's
	// broadcast target.
	components := map[string]api.HealthChecker{
		"mqtt": mqttClient,
	}
	if db != nil {
		components["database"] = db
	}
	if influxClient != nil {
		components["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:     cfg.Server,
		WS:         cfg.WebSocket,
		Logger:     log,
		Cache:      cache,
		History:    history,
		Engine:     engine,
		Buffer:     buffer,
		Callbacks:  callbacks,
		Relay:      msgRelay,
		Components: components,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	opts.Broadcaster = server.Hub()

	line := pipeline.New(log, registry, canonical.NewMapper(), engine, builder, bus, opts)
	server.SetPipeline(line)
	line.Start(ctx)
	defer line.Stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Subscribe to the gateway topics last so frames only arrive once
	// the whole pipeline is standing.
	for _, topic := range cfg.MQTT.Topics {
		subTopic := topic
		err := mqttClient.Subscribe(subTopic, byte(cfg.MQTT.QoS), func(t string, payload []byte) error {
			return line.HandleFrame(t, payload)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subTopic, err)
		}
		log.Info("subscribed", "topic", subTopic)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, pipeline
	// (drains workers and flushes the write buffer), InfluxDB, MQTT,
	// cache sweep, database.

	log.Info("Rackwise Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RACKWISE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RACKWISE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
