// Package logging configures the process-wide structured logger: console
// and file output always, Graylog and OpenTelemetry when configured.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Manager owns the configured slog.Logger and the sinks behind it.
type Manager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

// Options selects the sinks Setup wires up.
type Options struct {
	Level          string
	File           io.Writer              // extra text sink, usually the session log file
	GraylogAddress string                 // UDP GELF target, empty to disable
	LogProvider    *sdklog.LoggerProvider // OTel bridge, nil to disable
}

// NewManager creates an empty manager; call Setup before use.
func NewManager() *Manager {
	return &Manager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the logger. Console output is always on; file, Graylog and
// OTel sinks are added per the options. A Graylog dial failure is
// reported but does not fail setup.
func (m *Manager) Setup(opts Options) error {
	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler
	handlers = append(handlers, slog.NewTextHandler(os.Stdout, handlerOpts))

	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	}

	var gelfErr error
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			gelfErr = fmt.Errorf("failed to dial graylog at %s: %w", opts.GraylogAddress, err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	if opts.LogProvider != nil {
		m.logProvider = opts.LogProvider
		handlers = append(handlers, otelslog.NewHandler("tabletrack",
			otelslog.WithLoggerProvider(opts.LogProvider)))
	}

	m.logger = slog.New(NewFanoutHandler(handlers...))
	m.logger.Info("Logging initialized", "level", opts.Level)
	if gelfErr != nil {
		m.logger.Warn("Graylog sink disabled", "error", gelfErr)
	}
	return nil
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if the bridge is wired.
func (m *Manager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// OpenLogFile creates the logs directory and a timestamped session log
// file inside it. The caller owns closing the file.
func OpenLogFile(logsDir string) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs dir: %w", err)
	}
	name := fmt.Sprintf("tabletrack_%s.log", time.Now().UTC().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(logsDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	return f, nil
}
