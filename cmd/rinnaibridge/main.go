// Rinnai bridge - local control for Rinnai Control-R water heaters
//
// The bridge signs in to the Rinnai cloud, polls the account's water
// heaters and exposes them over MQTT and a local HTTP API:
//   - Setpoint and recirculation commands
//   - Retained per-device state and bridge health on MQTT
//   - Optional InfluxDB history and DogStatsD metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/rinnai-bridge/internal/api"
	"github.com/nerrad567/rinnai-bridge/internal/bridges/rinnai"
	"github.com/nerrad567/rinnai-bridge/internal/cloud"
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/database"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rinnai-bridge/migrations"
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

// configEnvVar overrides the default config path when --config is not given.
const configEnvVar = "RINNAI_CONFIG"

func main() {
	flags := pflag.NewFlagSet("rinnaibridge", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to the YAML config file (env "+configEnvVar+")")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *showVersion {
		fmt.Printf("rinnaibridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Rinnai bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	pref, err := cfg.Preference()
	if err != nil {
		return fmt.Errorf("building unit preference: %w", err)
	}

	// Database and device registry
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), pref)
	registry.SetLogger(log.Component("registry"))
	if restoreErr := registry.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring devices: %w", restoreErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// MQTT
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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// DogStatsD metrics (optional)
	var bridgeMetrics rinnai.Metrics
	recorder, err := metrics.New(cfg.Metrics)
	switch {
	case errors.Is(err, metrics.ErrDisabled):
		log.Info("metrics disabled")
	case err != nil:
		return fmt.Errorf("creating metrics client: %w", err)
	default:
		recorder.SetLogger(log.Component("metrics"))
		bridgeMetrics = recorder
		defer func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing metrics client", "error", closeErr)
			}
		}()
		log.Info("metrics enabled", "address", cfg.Metrics.Address)
	}

	// Cloud clients
	httpClient := cloud.NewHTTPClient(cfg.Rinnai.HTTPTimeout)
	endpoints := cfg.Rinnai.Endpoints
	session := cloud.NewCognitoSession(cloud.CognitoConfig{
		URL:      endpoints.CognitoURL,
		ClientID: endpoints.UserPoolClientID,
	}, httpClient)
	session.SetLogger(log.Component("cloud"))
	lister := cloud.NewGraphQLClient(cloud.GraphQLConfig{
		URL:    endpoints.GraphQLURL,
		APIKey: endpoints.GraphQLAPIKey,
	}, httpClient)
	shadow := cloud.NewShadowClient(cloud.ShadowConfig{
		Prefix: endpoints.ShadowPrefix,
		Suffix: endpoints.ShadowSuffix,
	}, httpClient)
	shadow.SetLogger(log.Component("cloud"))

	// A failed sign-in is retried by the first poll.
	if signInErr := session.SignIn(ctx, cfg.Rinnai.Username, cfg.Rinnai.Password); signInErr != nil {
		log.Error("cloud sign-in failed, will retry on next poll", "error", signInErr)
	} else {
		log.Info("signed in to Rinnai cloud", "username", cfg.Rinnai.Username)
	}

	// Sync engine, command dispatcher and MQTT bridge
	bridgeLog := log.Component("rinnai")
	engine, err := rinnai.NewEngine(rinnai.EngineOptions{
		Registry:     registry,
		Session:      session,
		Lister:       lister,
		Username:     cfg.Rinnai.Username,
		PollThrottle: cfg.PollThrottle(),
		PollInterval: cfg.Rinnai.PollInterval,
		Metrics:      bridgeMetrics,
		Logger:       bridgeLog,
	})
	if err != nil {
		return fmt.Errorf("creating sync engine: %w", err)
	}

	dispatcher, err := rinnai.NewDispatcher(rinnai.DispatcherOptions{
		Registry:                   registry,
		Session:                    session,
		Patcher:                    shadow,
		Poller:                     engine,
		Notifier:                   engine,
		Preference:                 pref,
		SettleDelay:                cfg.SettleDelay(),
		MaintenanceIdleThrottle:    cfg.MaintenanceIdleThrottle(),
		MaintenanceRunningThrottle: cfg.MaintenanceRunningThrottle(),
		Metrics:                    bridgeMetrics,
		Logger:                     bridgeLog,
	})
	if err != nil {
		return fmt.Errorf("creating command dispatcher: %w", err)
	}
	engine.SetMaintenance(dispatcher.RefreshAllMaintenance)

	bridge, err := rinnai.NewBridge(rinnai.BridgeOptions{
		MQTTClient: mqttClient,
		Topics:     mqttClient.Topics(),
		QoS:        mqttClient.QoS(),
		Registry:   registry,
		Engine:     engine,
		Dispatcher: dispatcher,
		Preference: pref,
		Version:    version,
		Logger:     bridgeLog,
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}

	if influxClient != nil {
		engine.AddObserver(influxObserver{client: influxClient})
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"), pref)
	engine.AddObserver(hub)

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Registry:   registry,
		Commands:   dispatcher,
		Poller:     engine,
		Preference: pref,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Start everything
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting MQTT bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping MQTT bridge")
		bridge.Stop()
	}()
	defer dispatcher.Stop()

	runCtx, stopRun := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	defer func() {
		stopRun()
		engine.Stop()
		if waitErr := g.Wait(); waitErr != nil {
			log.Error("background task failed", "error", waitErr)
		}
	}()

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, engine and hub,
	// dispatcher, bridge, metrics, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the --config value, else RINNAI_CONFIG, else
// the default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
