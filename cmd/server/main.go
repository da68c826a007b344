package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gregjohnson/lektrico-bridge/internal/config"
	"github.com/gregjohnson/lektrico-bridge/internal/gateway"
	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/metrics"
	"github.com/gregjohnson/lektrico-bridge/internal/mqtt"
	"github.com/gregjohnson/lektrico-bridge/internal/poller"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/gregjohnson/lektrico-bridge/internal/reconcile"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
	"github.com/gregjohnson/lektrico-bridge/internal/telemetry"
	"github.com/gregjohnson/lektrico-bridge/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Error("Failed to load config: %v", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Set up logging
	log.SetDefaultLevel(log.ParseLevel(cfg.Logging.Level))
	log.SetDefaultJSONMode(cfg.Logging.JSON)
	if *debug {
		log.SetDefaultLevel(log.LevelDebug)
	}

	log.Info("Starting Lektrico bridge %s (charger %s, energy manager %s)",
		web.Version, cfg.Charger.Host, cfg.Charger.EnergyManagerHost)

	// Ensure data directory exists
	if err := cfg.EnsureDataDir(); err != nil {
		log.Error("Failed to create data directory: %v", err)
		os.Exit(1)
	}

	// Open database
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		log.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	log.Info("Database initialized at %s", cfg.DatabasePath())

	if cfg.EventRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.EventRetentionDays)
		if n, err := db.PruneEventLogs(cutoff); err != nil {
			log.Warn("Failed to prune history: %v", err)
		} else if n > 0 {
			log.Info("Pruned %d history rows older than %d days", n, cfg.EventRetentionDays)
		}
	}

	metrics.Init()

	// Create charger client
	client, err := lektrico.NewClient(lektrico.Options{
		ChargerHost:       cfg.Charger.Host,
		EnergyManagerHost: cfg.Charger.EnergyManagerHost,
		Source:            cfg.Charger.SourceTag,
		Timeout:           cfg.HTTPTimeout(),
		CommandsPerSecond: cfg.Charger.CommandsPerSecond,
		CommandBurst:      cfg.Charger.CommandBurst,
	})
	if err != nil {
		log.Error("Failed to create charger client: %v", err)
		os.Exit(1)
	}

	store, err := newPropertyStore(cfg)
	if err != nil {
		log.Error("Failed to register properties: %v", err)
		os.Exit(1)
	}

	gw := gateway.New(client, gateway.Options{
		SessionTag: cfg.Charger.SessionTag,
		Journal:    db,
	})

	reconciler := reconcile.New(store, gw, reconcile.Options{
		EchoWindow:         cfg.EchoWindow(),
		CurrentSettleDelay: cfg.CurrentSettleDelay(),
		ModeSettleDelay:    cfg.ModeSettleDelay(),
		Journal:            db,
	})
	defer reconciler.Close()
	store.OnWrite(reconciler.HandleExternalWrite)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	svc := &Service{
		db:         db,
		store:      store,
		reconciler: reconciler,
	}

	// Optional MQTT transport
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT, nil)
		if err != nil {
			log.Error("Failed to connect to MQTT broker: %v", err)
		} else {
			bridge := mqtt.NewBridge(mqttClient, store, cfg.MQTT.TopicPrefix, nil)
			if err := bridge.Start(ctx); err != nil {
				log.Error("Failed to start MQTT bridge: %v", err)
			}
			defer mqttClient.Close()
			defer bridge.Stop()
			svc.mqtt = mqttClient
		}
	}

	// Optional telemetry export
	pollOpts := poller.Options{
		Interval:   cfg.PollInterval(),
		SignOfLife: cfg.SignOfLifeInterval(),
		History:    db,
	}
	influx, err := telemetry.Connect(cfg.InfluxDB, map[string]string{
		"device_instance": strconv.Itoa(cfg.Charger.DeviceInstance),
		"host":            cfg.Charger.Host,
	}, nil)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		log.Error("Failed to connect to InfluxDB: %v", err)
	default:
		defer influx.Close()
		svc.influx = influx
		pollOpts.Telemetry = influx
	}

	db.LogEvent(storage.EventSourceSystem, storage.EventTypeInfo, "Bridge started", map[string]interface{}{
		"version": web.Version,
		"charger": cfg.Charger.Host,
	})

	// Start polling loop
	p := poller.New(client, reconciler, store, pollOpts)
	go p.Run(ctx)

	// Start web server
	webServer := web.NewServer(cfg.ServerPort, svc)
	if err := webServer.Run(ctx); err != nil {
		log.Error("Web server error: %v", err)
		cancel()
	}

	db.LogEvent(storage.EventSourceSystem, storage.EventTypeInfo, "Bridge stopped", nil)
	log.Info("Shutdown complete")
}

// newPropertyStore registers the full property set with its identity values
func newPropertyStore(cfg *config.Config) (*property.Store, error) {
	store := property.NewStore()
	if err := store.RegisterAll(property.ChargerDefinitions()); err != nil {
		return nil, err
	}
	if err := store.RegisterText(property.Serial, ""); err != nil {
		return nil, err
	}
	if err := store.RegisterText(property.ProductName, cfg.Charger.ProductName); err != nil {
		return nil, err
	}
	if err := store.Publish(property.DeviceInstance, float64(cfg.Charger.DeviceInstance)); err != nil {
		return nil, err
	}
	return store, nil
}

// Service orchestrates the bridge components
type Service struct {
	db         *storage.DB
	store      *property.Store
	reconciler *reconcile.Reconciler
	mqtt       *mqtt.Client
	influx     *telemetry.Writer
}

// GetStore returns the property store
func (s *Service) GetStore() web.PropertyStore {
	return s.store
}

// GetJournal returns the database
func (s *Service) GetJournal() web.Journal {
	return s.db
}

// GetReconcilerStatus returns the reconciler state
func (s *Service) GetReconcilerStatus() reconcile.Status {
	return s.reconciler.Status()
}

// MQTTConnected reports the broker connection
func (s *Service) MQTTConnected() bool {
	return s.mqtt.IsConnected()
}

// InfluxConnected reports the InfluxDB connection
func (s *Service) InfluxConnected() bool {
	return s.influx.IsConnected()
}
