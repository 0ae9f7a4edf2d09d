package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// swapped in tests
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel and Graylog integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// GELF sink, nil unless EnableGELF succeeded
	gelf      io.WriteCloser
	gelfLevel slog.Level

	// stamped on every record when set
	session string
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
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

// EnableGELF opens a UDP GELF writer to a Graylog input. Only records at
// minLevel or above are shipped, whatever the session log level. Must be
// called before Setup.
func (m *SlogManager) EnableGELF(address, minLevel string) error {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return fmt.Errorf("failed to open GELF writer: %w", err)
	}
	m.gelf = w
	m.gelfLevel = parseLevel(minLevel)
	return nil
}

// SetSession sets the replay session ID stamped on every record. Must be
// called before Setup.
func (m *SlogManager) SetSession(id string) {
	m.session = id
}

// Setup initializes the logging system with file and optional OTel output.
// When file is nil, records go to stdout instead.
// If provider is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var sinks []Sink

	if file != nil {
		sinks = append(sinks, Sink{Name: "file", Handler: slog.NewTextHandler(file, handlerOpts), MinLevel: lvl})
	} else {
		sinks = append(sinks, Sink{Name: "stdout", Handler: slog.NewTextHandler(osStdout, handlerOpts), MinLevel: lvl})
	}

	if m.gelf != nil {
		sinks = append(sinks, Sink{
			Name:     "gelf",
			Handler:  slog.NewJSONHandler(m.gelf, handlerOpts),
			MinLevel: max(lvl, m.gelfLevel),
		})
	}

	if provider != nil {
		otelHandler := otelslog.NewHandler("anchorcast", otelslog.WithLoggerProvider(provider))
		sinks = append(sinks, Sink{Name: "otel", Handler: otelHandler, MinLevel: lvl})
	}

	m.logger = slog.New(NewSessionHandler(NewFanoutHandler(sinks...), m.session))
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the GELF writer, if any.
func (m *SlogManager) Close() error {
	if m.gelf != nil {
		return m.gelf.Close()
	}
	return nil
}
