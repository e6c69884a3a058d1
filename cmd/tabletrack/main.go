// Command tabletrack tracks fiducial markers on a physical play surface
// and mirrors them onto a remote tabletop scene.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabletrack/tracker/internal/calib"
	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/internal/detect"
	"github.com/tabletrack/tracker/internal/dispatcher"
	"github.com/tabletrack/tracker/internal/influx"
	"github.com/tabletrack/tracker/internal/ledger"
	"github.com/tabletrack/tracker/internal/logging"
	"github.com/tabletrack/tracker/internal/monitor"
	intOtel "github.com/tabletrack/tracker/internal/otel"
	"github.com/tabletrack/tracker/internal/remote"
	"github.com/tabletrack/tracker/internal/session"
	"github.com/tabletrack/tracker/internal/snapshot"
	"github.com/tabletrack/tracker/internal/storage"
	"github.com/tabletrack/tracker/internal/tracker"
)

func main() {
	configDir := flag.String("config", ".", "directory containing tabletrack.cfg.json")
	capture := flag.String("capture", "", "detection capture file (JSONL), required")
	pace := flag.Bool("pace", true, "replay the capture at recorded timing")
	flag.Parse()

	if err := run(*configDir, *capture, *pace); err != nil {
		fmt.Fprintln(os.Stderr, "tabletrack:", err)
		os.Exit(1)
	}
}

func run(configDir, capture string, pace bool) error {
	if capture == "" {
		return fmt.Errorf("no detection capture given, use -capture")
	}

	if err := config.Load(configDir); err != nil {
		return err
	}
	markers, err := config.GetMarkerConfig()
	if err != nil {
		return fmt.Errorf("invalid marker config: %w", err)
	}
	sceneCfg := config.GetSceneConfig()
	remoteCfg := config.GetRemoteConfig()
	trackingCfg := config.GetTrackingConfig()
	snapshotCfg := config.GetSnapshotConfig()
	otelCfg := config.GetOTelConfig()

	logsDir := config.GetString("logsDir")
	logFile, err := logging.OpenLogFile(logsDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	otelProvider, err := setupOTel(otelCfg, logsDir)
	if err != nil {
		return err
	}

	logManager := logging.NewManager()
	if err := logManager.Setup(logging.Options{
		Level:          config.GetString("logLevel"),
		File:           logFile,
		GraylogAddress: graylogAddress(),
		LogProvider:    otelProvider.LoggerProvider(),
	}); err != nil {
		return err
	}
	logger := logManager.Logger()

	history, err := storage.NewBackend(config.GetStorageConfig(), logger)
	if err != nil {
		return err
	}
	if err := history.Init(); err != nil {
		return err
	}
	defer history.Close()

	var metrics *influx.Manager
	if config.GetBool("influx.enabled") {
		zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
		metrics = influx.NewManager(zl, filepath.Join(logsDir, "influx_backup.lp.gz"))
		if err := metrics.Connect(); err != nil {
			logger.Warn("Metrics disabled", "error", err)
			metrics = nil
		} else {
			defer metrics.Close()
		}
	}

	client := remote.NewClient(remoteCfg.BaseURL, remoteCfg.APIKey)
	if err := client.Healthcheck(context.Background()); err != nil {
		logger.Warn("Remote session not reachable at startup", "error", err)
	}

	source, err := detect.NewReplay(capture, pace, logger)
	if err != nil {
		return err
	}

	sess := session.NewContext(sceneCfg.ID)
	channel := remote.NewChannel(remoteCfg.WsURL, remoteCfg.APIKey, logger)

	var snapWriter *snapshot.Writer
	if snapshotCfg.Enabled {
		snapWriter = snapshot.NewWriter(snapshotCfg.Path, sceneCfg.ID,
			trackingCfg.SurfaceWidth, trackingCfg.SurfaceHeight, sceneCfg.Width, sceneCfg.Height)
	}

	driver, err := tracker.New(tracker.Dependencies{
		Source:     source,
		Calibrator: calib.New(markers, trackingCfg.SurfaceWidth, trackingCfg.SurfaceHeight),
		Session:    sess,
		Ledger:     ledger.New(),
		Resolver:   remote.NewResolver(client, markers, sceneCfg.ID, logger),
		Channel:    channel,
		Pusher: remote.NewPusher(channel, client, sceneCfg,
			trackingCfg.SurfaceWidth, trackingCfg.SurfaceHeight, trackingCfg.UpdateInterval, logger),
		Snapshot: snapWriter,
		History:  history,
		Metrics:  metrics,
		Markers:  markers,
		Tracking: trackingCfg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	commands, err := registerCommands(driver, client, logger)
	if err != nil {
		return err
	}
	go readConsole(os.Stdin, commands, logger)

	mon := monitor.NewService(driver.Status, logger, 30*time.Second)
	mon.Start()
	defer mon.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Shutting down", "signal", sig.String())
		driver.Stop()
	}()

	runErr := driver.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := logManager.Flush(ctx); err != nil {
		logger.Warn("Log flush failed", "error", err)
	}
	if err := otelProvider.Shutdown(ctx); err != nil {
		logger.Warn("OTel shutdown failed", "error", err)
	}
	return runErr
}

func setupOTel(cfg config.OTelConfig, logsDir string) (*intOtel.Provider, error) {
	otelOpts := intOtel.Config{
		Enabled:      cfg.Enabled,
		ServiceName:  cfg.ServiceName,
		BatchTimeout: cfg.BatchTimeout,
		Endpoint:     cfg.Endpoint,
		Insecure:     cfg.Insecure,
	}
	if cfg.Enabled {
		f, err := os.Create(filepath.Join(logsDir, "otel.log"))
		if err != nil {
			return nil, fmt.Errorf("failed to create otel log file: %w", err)
		}
		otelOpts.LogWriter = f
	}
	return intOtel.New(otelOpts)
}

func graylogAddress() string {
	if !config.GetBool("graylog.enabled") {
		return ""
	}
	return config.GetString("graylog.address")
}

// registerCommands wires the operator console commands.
func registerCommands(driver *tracker.Driver, client *remote.Client, logger *slog.Logger) (*dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(slogAdapter{logger})
	if err != nil {
		return nil, err
	}

	d.Register("status", func(dispatcher.Command) (any, error) {
		return driver.Status().Format(), nil
	}, dispatcher.Logged())

	d.Register("recalibrate", func(dispatcher.Command) (any, error) {
		driver.RequestRecalibration()
		return "recalibration armed", nil
	}, dispatcher.Logged())

	d.Register("calibrate", func(dispatcher.Command) (any, error) {
		driver.BeginManualCalibration()
		return "pick corners with: pick <x> <y>", nil
	}, dispatcher.Logged())

	d.Register("pick", func(c dispatcher.Command) (any, error) {
		p, err := parsePick(c.Args)
		if err != nil {
			return nil, err
		}
		if err := driver.AddManualPick(p); err != nil {
			return nil, err
		}
		return "picked", nil
	}, dispatcher.Logged())

	d.Register("cancel", func(dispatcher.Command) (any, error) {
		driver.CancelManualCalibration()
		return "manual calibration cancelled", nil
	}, dispatcher.Logged())

	d.Register("health", func(dispatcher.Command) (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Healthcheck(ctx); err != nil {
			return nil, err
		}
		return "remote session reachable", nil
	}, dispatcher.Logged())

	d.Register("stop", func(dispatcher.Command) (any, error) {
		driver.Stop()
		return "stopping", nil
	}, dispatcher.Logged())

	return d, nil
}

// slogAdapter satisfies dispatcher.Logger with the process logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a slogAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }
