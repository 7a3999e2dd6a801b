package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/api"
	"github.com/raidscope/raidscope/internal/capture"
	"github.com/raidscope/raidscope/internal/cli"
	"github.com/raidscope/raidscope/internal/config"
	"github.com/raidscope/raidscope/internal/display"
	"github.com/raidscope/raidscope/internal/engine"
	"github.com/raidscope/raidscope/internal/entity"
	"github.com/raidscope/raidscope/internal/events"
	"github.com/raidscope/raidscope/internal/health"
	"github.com/raidscope/raidscope/internal/itemdb"
	"github.com/raidscope/raidscope/internal/metrics"
	"github.com/raidscope/raidscope/internal/protocol"
	"github.com/raidscope/raidscope/internal/scheduler"
	"github.com/raidscope/raidscope/internal/telemetry"
	"github.com/raidscope/raidscope/internal/util"
	"github.com/raidscope/raidscope/internal/world"
)

// loadConfig starts logging with defaults, loads the configuration and
// then reconfigures logging from it.
func loadConfig(dir string) (*config.Config, error) {
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}
	return cfg, nil
}

// validate logs warnings and errors and runs the setup wizard on a first
// run.
func validate(cfg *config.Config) error {
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if validation.IsValid() {
		return nil
	}
	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	if !cfg.IsFirstRun() {
		return errors.New("configuration validation failed, please fix the errors above")
	}

	log.Info().Msg("first run detected, launching setup wizard")
	if err := config.RunSetupWizard(cfg); err != nil {
		return fmt.Errorf("setup wizard failed: %w", err)
	}
	if v := config.Validate(cfg); !v.IsValid() {
		return fmt.Errorf("configuration still invalid: %v", v.Errors[0])
	}
	return nil
}

func openCatalog(cfg *config.Config) (*itemdb.Catalog, error) {
	if err := util.EnsureDir(filepath.Dir(cfg.ItemDB.Path)); err != nil {
		return nil, err
	}
	catalog, err := itemdb.Open(cfg.ItemDB.Path, cfg.ItemDB.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("open item database: %w", err)
	}
	return catalog, nil
}

// newSource builds the packet source of the configured capture mode.
func newSource(c config.CaptureConfig) (capture.Source, error) {
	switch c.Mode {
	case config.ModeReplay:
		return capture.NewReplay(capture.ReplayOptions{
			Path:        c.ReplayFile,
			LocalPrefix: c.LocalSubnet,
			Skip:        c.Skip,
			Limit:       c.Limit,
			Delay:       time.Duration(c.PacketDelayMS) * time.Millisecond,
			Strict:      c.Strict,
		}), nil
	case config.ModeTZSP:
		return capture.NewTZSPListener(capture.TZSPOptions{
			Addr:        fmt.Sprintf(":%d", c.TZSPPort),
			PortMin:     c.GamePortMin,
			PortMax:     c.GamePortMax,
			LocalPrefix: c.MirrorSubnet,
		}), nil
	case config.ModeProcess:
		return capture.NewProcess(capture.ProcessOptions{
			Command:     c.Command,
			WorkDir:     c.WorkingDir,
			LocalPrefix: c.LocalSubnet,
		}), nil
	}
	return nil, fmt.Errorf("unknown capture mode %q", c.Mode)
}

// newPacketLog returns nil in replay mode or when the log is disabled.
func newPacketLog(cfg *config.Config) (*capture.PacketLog, error) {
	pl := cfg.PacketLog
	if cfg.Capture.Mode == config.ModeReplay || !pl.Enabled {
		return nil, nil
	}

	archive := capture.NewArchive(pl.Compress, nil, pl.RemoveUploaded)
	if pl.S3.Bucket != "" {
		up, err := capture.NewS3Uploader(capture.S3Config{
			Bucket:    pl.S3.Bucket,
			Prefix:    pl.S3.Prefix,
			Region:    pl.S3.Region,
			Endpoint:  pl.S3.Endpoint,
			AccessKey: pl.S3.AccessKey,
			SecretKey: pl.S3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("packet log archive: %w", err)
		}
		archive.Uploader = up
	}
	return capture.NewPacketLog(capture.PacketLogOptions{Dir: pl.Directory, Archiver: archive})
}

// serve wires every component around one engine and runs until the source
// is exhausted, a fatal decode error occurs, or a signal arrives.
func serve(cfg *config.Config, console bool) error {
	fmt.Printf(banner, version)
	fmt.Println()

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting raidscope")

	if err := validate(cfg); err != nil {
		return err
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Default()
	}

	var (
		describer entity.Describer = entity.StaticDescriber{}
		catalog   *itemdb.Catalog
	)
	if cfg.ItemDB.Path != "" {
		c, err := openCatalog(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("item database unavailable, loot is priced at 0")
		} else {
			catalog = c
			describer = c
			defer catalog.Close()
			if cfg.ItemDB.ImportDir != "" {
				if n, err := catalog.ImportDir(cfg.ItemDB.ImportDir); err != nil {
					log.Warn().Err(err).Str("dir", cfg.ItemDB.ImportDir).Msg("item import failed")
				} else {
					log.Info().Int("items", n).Msg("item database imported")
				}
			}
		}
	}

	capCfg := cfg.GetCapture()
	src, err := newSource(capCfg)
	if err != nil {
		return err
	}
	packetLog, err := newPacketLog(cfg)
	if err != nil {
		return err
	}

	loot := cfg.GetLoot()
	disp := cfg.GetDisplay()
	eng := engine.New(src, engine.Options{
		QueueSize: capCfg.QueueSize,
		Strict:    capCfg.Mode == config.ModeReplay && capCfg.Strict,
		World: world.Options{
			Describer: describer,
			Loot: world.LootRules{
				Threshold:         loot.PriceThreshold,
				IgnoredPrefixes:   loot.IgnoredPrefixes,
				IgnoredContainers: loot.IgnoredContainers,
				Wanted:            loot.Wanted,
			},
		},
		Refresh: display.RefreshOptions{
			Build: display.BuildOptions{
				MaxDeadPlayers: disp.MaxDeadPlayers,
				PriceBrackets:  loot.PriceBrackets,
			},
			BacklogThreshold: disp.BacklogThreshold,
			MaxSkips:         disp.MaxSkips,
			MinMoveDelta:     disp.MinMoveDelta,
		},
		RefreshInterval: time.Duration(disp.RefreshIntervalMS) * time.Millisecond,
		PacketLog:       packetLog,
		Bus:             bus,
		Metrics:         m,
	})

	healthMgr := health.NewManager(cfg.Health, eng, bus, cfg.Logging.Directory)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		h, err := telemetry.NewMQTTHandler(cfg.MQTT, bus)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT telemetry disabled")
		} else {
			mqttHandler = h
		}
	}

	var importer scheduler.Importer
	if catalog != nil {
		importer = catalog
	}
	sched := scheduler.NewScheduler(cfg, importer)

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Engine:  eng,
			Board:   eng.Board(),
			Health:  healthMgr,
			Version: version,
		}
		if catalog != nil {
			deps.Catalog = catalog
		}
		if m == nil {
			deps.Gatherer = prometheus.NewRegistry()
		}
		apiServer = api.NewServer(cfg, bus, deps)
	}

	// The quit command and the bus both end the run.
	quitCh := make(chan struct{})
	var quitOnce sync.Once
	bus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, e events.Event) error {
		quitOnce.Do(func() { close(quitCh) })
		return nil
	})

	var wg sync.WaitGroup
	engineErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		engineErr <- eng.Run(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if console && disp.TableEnabled {
		// Not in the WaitGroup: it may be blocked reading stdin.
		go cli.NewCLI(eng, bus, os.Stdin, os.Stdout).Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested")
	case runErr = <-engineErr:
		switch {
		case errors.Is(runErr, protocol.ErrFatalReplayMismatch):
			log.Error().Err(runErr).Msg("replay stopped on a decode mismatch")
		case runErr != nil:
			log.Error().Err(runErr).Msg("engine stopped")
		default:
			st := eng.Stats()
			log.Info().
				Int64("packets", st.Packets).
				Int64("sessions", st.Sessions).
				Uint64("anomalies", st.Transport.Anomalies).
				Msg("packet source finished")
		}
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()
	log.Info().Msg("raidscope stopped")
	return runErr
}
