// devicelive keeps a live telemetry subscription to one device open and
// mirrors it to MQTT, SQLite and a small HTTP API.
//
// The channel inputs (device ID and bearer token) come from the config
// file or DEVICELIVE_LIVE_DEVICE_ID / DEVICELIVE_LIVE_TOKEN. Sending SIGHUP
// re-reads the config and applies changed inputs; PUT /api/v1/live does the
// same at runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nerrad567/devicelive/internal/api"
	"github.com/nerrad567/devicelive/internal/audit"
	"github.com/nerrad567/devicelive/internal/auth"
	"github.com/nerrad567/devicelive/internal/infrastructure/config"
	"github.com/nerrad567/devicelive/internal/infrastructure/database"
	"github.com/nerrad567/devicelive/internal/infrastructure/logging"
	"github.com/nerrad567/devicelive/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelive/internal/livechannel"
	"github.com/nerrad567/devicelive/internal/relay"
	"github.com/nerrad567/devicelive/internal/transport/pushws"
	"github.com/nerrad567/devicelive/migrations"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components and blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: linear wiring of optional components
	log := logging.Default()
	log.Info("starting devicelive",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Session event trail
	var db *database.DB
	var events audit.Repository
	if cfg.Audit.Enabled {
		db, err = database.Open(ctx, database.Config{
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		events = audit.NewSQLiteRepository(db.DB)
		log.Info("session event trail enabled", "path", db.Path())
	} else {
		log.Info("session event trail disabled")
	}

	// MQTT
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT relay disabled")
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Live channel
	dialer := pushws.NewDialer(pushws.Config{
		HandshakeTimeout: cfg.Live.ConnectTimeout,
		PingInterval:     cfg.Live.PingInterval,
		WriteTimeout:     cfg.Live.WriteTimeout,
	}, log)
	channel, err := livechannel.New(livechannelConfig(cfg.Live), dialer, livechannel.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating live channel: %w", err)
	}

	watchCtx, stopWatchers := context.WithCancel(ctx)
	var watchers sync.WaitGroup
	defer func() {
		log.Info("closing live channel")
		channel.Close()
		stopWatchers()
		watchers.Wait()
	}()

	if events != nil {
		recorder := audit.NewRecorder(events, log)
		states := channel.Watch(watchCtx)
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			recorder.Run(watchCtx, states)
		}()
	}

	if mqttClient != nil {
		rel := relay.New(relay.Config{
			Topics: mqttClient.Topics(),
			QoS:    mqttClient.QoS(),
		}, mqttClient, channel, log)
		if startErr := rel.Start(); startErr != nil {
			return fmt.Errorf("starting relay: %w", startErr)
		}
		defer func() {
			if stopErr := rel.Stop(); stopErr != nil {
				log.Warn("error stopping relay", "error", stopErr)
			}
		}()

		states := channel.Watch(watchCtx)
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			rel.Run(watchCtx, states)
		}()
	}

	// HTTP API
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Channel: channel,
			Audit:   events,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := applyInputs(channel, cfg.Live, log); err != nil {
		return err
	}

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	log.Info("initialisation complete, waiting for shutdown signal")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-hangup:
			if err := reloadInputs(configPath, channel, log); err != nil {
				log.Error("config reload failed, keeping current inputs", "error", err)
			}
		}
	}
}

// getConfigPath returns the config file path from DEVICELIVE_CONFIG or the
// default.
func getConfigPath() string {
	if path := os.Getenv("DEVICELIVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func livechannelConfig(cfg config.LiveConfig) livechannel.Config {
	return livechannel.Config{
		URL:            cfg.URL,
		Transport:      cfg.Transport,
		ConnectTimeout: cfg.ConnectTimeout,
		Backoff: livechannel.Backoff{
			BaseDelay:   cfg.Backoff.BaseDelay,
			MaxDelay:    cfg.Backoff.MaxDelay,
			MaxAttempts: cfg.Backoff.MaxAttempts,
		},
	}
}

// inputSetter is the part of the channel that takes inputs.
type inputSetter interface {
	SetInputs(deviceID, token string) error
}

func applyInputs(ch inputSetter, live config.LiveConfig, log *logging.Logger) error {
	if err := ch.SetInputs(live.DeviceID, live.Token); err != nil {
		return fmt.Errorf("applying live inputs: %w", err)
	}
	log.Info("live inputs applied",
		"device_id", live.DeviceID,
		"token_fp", auth.Fingerprint(live.Token),
	)
	return nil
}

// reloadInputs re-reads the config file and applies its device ID and
// token. Other settings need a restart.
func reloadInputs(path string, ch inputSetter, log *logging.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	return applyInputs(ch, cfg.Live, log)
}

// healthCheck verifies the optional components that were started.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
