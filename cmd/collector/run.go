package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/internal/metrics"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/alarm"
	"github.com/cuemby/telemetry-collector/pkg/bacnet"
	"github.com/cuemby/telemetry-collector/pkg/controlapi"
	"github.com/cuemby/telemetry-collector/pkg/modbus"
	"github.com/cuemby/telemetry-collector/pkg/mqttworker"
	"github.com/cuemby/telemetry-collector/pkg/processing"
	"github.com/cuemby/telemetry-collector/pkg/queue"
	"github.com/cuemby/telemetry-collector/pkg/security"
	"github.com/cuemby/telemetry-collector/pkg/sink"
	"github.com/cuemby/telemetry-collector/pkg/vpoint"
	"github.com/cuemby/telemetry-collector/pkg/workerbase"
	"github.com/cuemby/telemetry-collector/pkg/workermanager"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector process: poll devices, evaluate rules, publish events",
	RunE:  runCollector,
}

func init() {
	runCmd.Flags().String("config", "collector.yaml", "Path to the collector configuration file")
}

func runCollector(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}

	logger := log.WithComponent("main")

	boltStore, err := sink.NewBoltStore(cfg.Store.BoltPath)
	if err != nil {
		return withExitCode(exitDependencyDown, fmt.Errorf("opening local store: %w", err))
	}
	defer boltStore.Close()

	redisSink := sink.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisSink.Close()
	if err := redisSink.Ping(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, continuing in degraded mode")
	}

	q := queue.New(cfg.Queue.Capacity)

	vpoints := vpoint.New()
	for _, vp := range cfg.VirtualPoints {
		if err := vpoints.Register(vp.ToModel()); err != nil {
			return withExitCode(exitConfigError, fmt.Errorf("registering virtual point %q: %w", vp.ID, err))
		}
	}

	rules := alarm.NewRuleCache()
	tenants := make(map[string]bool)
	for _, rc := range cfg.AlarmRules {
		rules.ReloadRule(rc.ToModel())
		tenants[rc.TenantID] = true
	}

	occIDSeed, err := boltStore.HighestOccurrenceID()
	if err != nil {
		return withExitCode(exitDependencyDown, fmt.Errorf("reading highest occurrence id: %w", err))
	}

	alarmEngine := alarm.New(rules, boltStore, redisSink, redisSink, occIDSeed)

	wm := workermanager.New()
	serialBuses := make(map[string]*modbus.Bus)

	for _, dev := range cfg.Devices {
		if err := registerDevice(wm, dev, q, serialBuses); err != nil {
			logger.Error().Str("device_id", dev.ID).Err(err).Msg("failed to build worker for device")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := wm.StartAll(ctx); err != nil {
		logger.Error().Err(err).Msg("one or more devices failed to start")
	}

	recovery := alarm.NewRecovery(boltStore, redisSink, rules)
	for tenantID := range tenants {
		if err := recovery.Run(ctx, tenantID, "collector", "", nil); err != nil {
			logger.Error().Str("tenant_id", tenantID).Err(err).Msg("startup alarm recovery failed")
		}
	}

	procCfg := processing.Config{
		Workers:      cfg.Queue.Workers,
		BatchSize:    cfg.Queue.BatchSize,
		BatchTimeout: cfg.Queue.BatchTimeout(),
		SourceName:   "collector",
	}
	svc := processing.New(procCfg, q, vpoints, alarmEngine, boltStore, boltStore, redisSink, boltStore)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint listening")

	controlSrv := controlapi.NewServer(wm, alarmEngine, boltStore)
	if cfg.Control.TLSEnabled {
		tlsCfg, err := controlTLSConfig(cfg)
		if err != nil {
			return withExitCode(exitDependencyDown, fmt.Errorf("setting up control API TLS: %w", err))
		}
		controlSrv.TLSConfig = tlsCfg
	}
	go func() {
		if err := controlSrv.Start(cfg.Control.ListenAddr); err != nil {
			logger.Error().Err(err).Msg("control API server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.Control.ListenAddr).Msg("control API listening")

	go svc.Run(ctx)
	logger.Info().Int("devices", len(cfg.Devices)).Msg("collector running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	controlSrv.Stop()
	if err := wm.StopAll(); err != nil {
		logger.Warn().Err(err).Msg("one or more devices failed to stop cleanly")
	}

	return nil
}

// controlTLSConfig loads or initializes a certificate authority under
// cfg.Control.CertDir and issues a server certificate for the control
// listener, keyed by cfg.DeploymentID so the CA's root key survives a
// restart without a separately-managed secret.
func controlTLSConfig(cfg config.Config) (*tls.Config, error) {
	key := security.DeriveKeyFromDeploymentID(cfg.DeploymentID)
	if err := security.SetDeploymentEncryptionKey(key); err != nil {
		return nil, fmt.Errorf("setting deployment encryption key: %w", err)
	}

	ca := security.NewCertAuthority()
	if security.CAExists(cfg.Control.CertDir) {
		if err := ca.LoadFromDir(cfg.Control.CertDir); err != nil {
			return nil, fmt.Errorf("loading control API CA: %w", err)
		}
	} else {
		if err := ca.Initialize(); err != nil {
			return nil, fmt.Errorf("initializing control API CA: %w", err)
		}
		if err := ca.SaveToDir(cfg.Control.CertDir); err != nil {
			return nil, fmt.Errorf("saving control API CA: %w", err)
		}
	}

	cert, err := ca.IssueNodeCertificate("control-api", "server", []string{}, nil)
	if err != nil {
		return nil, fmt.Errorf("issuing control API server certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(ca.GetRootCACert())
	if err != nil {
		return nil, fmt.Errorf("parsing control API root certificate: %w", err)
	}
	rootPool := x509.NewCertPool()
	rootPool.AddCert(rootCert)

	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    rootPool,
	}, nil
}

// registerDevice builds the right protocol worker for dev.Protocol and
// registers it with wm. Only process wiring knows which protocol package
// maps to a config.DeviceConfig.Protocol value (workermanager itself stays
// protocol-agnostic).
func registerDevice(wm *workermanager.Manager, dev config.DeviceConfig, q *queue.Queue, serialBuses map[string]*modbus.Bus) error {
	wcfg := workerbase.Config{DeviceID: dev.ID}

	switch dev.Protocol {
	case "modbus_tcp":
		groups := modbus.BuildPollGroups(dev)
		modbus.BindPoints(groups, dev)
		worker := modbus.NewTCPWorker(dev, groups, q)
		return wm.Register(dev.Protocol, wcfg, worker)

	case "modbus_rtu":
		bus, ok := serialBuses[dev.SerialDevice]
		if !ok {
			port, err := modbus.OpenSerialPort(dev.SerialDevice, dev.BaudRate)
			if err != nil {
				return err
			}
			bus = modbus.NewBus(port)
			serialBuses[dev.SerialDevice] = bus
		}
		groups := modbus.BuildPollGroups(dev)
		modbus.BindPoints(groups, dev)
		worker := modbus.NewRTUWorker(dev, bus, groups, q)
		return wm.Register(dev.Protocol, wcfg, worker)

	case "bacnet":
		bindings := bacnet.BindPoints(dev)
		worker, err := bacnet.NewWorker(dev, bindings, q)
		if err != nil {
			return err
		}
		return wm.Register(dev.Protocol, wcfg, worker)

	case "mqtt":
		subs := mqttworker.BuildSubscriptions(dev)
		production := mqttworker.BuildProductionConfig(dev)
		worker := mqttworker.New(dev, subs, production, q)
		return wm.Register(dev.Protocol, wcfg, worker)

	default:
		return fmt.Errorf("unknown protocol %q", dev.Protocol)
	}
}
