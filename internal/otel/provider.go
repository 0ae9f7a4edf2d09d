// Package otel builds the OpenTelemetry log pipeline for one replay session.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// SessionKey is the resource attribute naming the replay session.
const SessionKey = attribute.Key("anchorcast.session.id")

// ErrNoExporter is returned when OTel is enabled with neither a log writer
// nor an OTLP endpoint.
var ErrNoExporter = errors.New("OTel enabled but no log writer or endpoint configured")

// Config holds OTel configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	SessionID      string
	BatchTimeout   time.Duration
	LogWriter      io.Writer // session log file; records are written as compact JSON lines
	Endpoint       string    // OTLP HTTP endpoint (optional)
	Insecure       bool
	Headers        map[string]string // sent with every OTLP request, e.g. an ingest token
}

// Provider owns the log provider of a session.
type Provider struct {
	logProvider *sdklog.LoggerProvider
}

// New builds the exporters named by cfg. Every record carries the service
// and session resource attributes.
func New(cfg Config) (*Provider, error) {
	ctx := context.Background()

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var opts []sdklog.LoggerProviderOption
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(batch(exp, cfg.BatchTimeout)))
	}
	if cfg.Endpoint != "" {
		exp, err := otlploghttp.New(ctx, otlpOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		opts = append(opts, sdklog.WithProcessor(batch(exp, cfg.BatchTimeout)))
	}
	if len(opts) == 0 {
		return nil, ErrNoExporter
	}

	opts = append(opts, sdklog.WithResource(res))
	return &Provider{logProvider: sdklog.NewLoggerProvider(opts...)}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.SessionID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.SessionID), SessionKey.String(cfg.SessionID))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func otlpOptions(cfg Config) []otlploghttp.Option {
	opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
	}
	return opts
}

func batch(exp sdklog.Exporter, timeout time.Duration) *sdklog.BatchProcessor {
	var opts []sdklog.BatchProcessorOption
	if timeout > 0 {
		opts = append(opts, sdklog.WithExportTimeout(timeout))
	}
	return sdklog.NewBatchProcessor(exp, opts...)
}

// LoggerProvider returns the log provider for the otelslog bridge. It is nil
// after Shutdown.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Flush exports buffered records. Called when a session ends so its logs are
// exported before upload.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters. Calling it again is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	lp := p.logProvider
	p.logProvider = nil
	if err := lp.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}
