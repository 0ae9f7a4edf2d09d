// Package influx ships per-tick performance points to InfluxDB, falling back
// to a gzip line-protocol file when the server is unreachable at startup.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Mode reports where points currently go.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeServer Mode = "influx"
	ModeBackup Mode = "backup"
)

// Config describes the InfluxDB server and the backup file.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	Retention     time.Duration // applied when the bucket is created; 0 keeps points forever
	BatchSize     uint
	FlushInterval time.Duration
	// BackupPath receives gzip line protocol while the server is unreachable.
	BackupPath string
}

func (c Config) options() *influxdb2.Options {
	opts := influxdb2.DefaultOptions()
	if c.BatchSize > 0 {
		opts.SetBatchSize(c.BatchSize)
	}
	if c.FlushInterval > 0 {
		opts.SetFlushInterval(uint(c.FlushInterval.Milliseconds()))
	}
	return opts
}

// Stats counts points by outcome.
type Stats struct {
	Written  int64 // handed to the async writer
	BackedUp int64
	Failed   int64 // rejected by the server, reported asynchronously
}

// Manager owns the InfluxDB client of one replay session.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	mode       Mode
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backup     *gzip.Writer
	backupFile *os.File
	errsDone   chan struct{}

	written, backedUp, failed atomic.Int64
}

// NewManager creates an unconnected manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger, mode: ModeNone}
}

// Connect pings the server. When it answers, the org and bucket are created
// if missing and points are written to it; otherwise they go to the backup
// file. An unreachable server without a backup path is an error.
func (m *Manager) Connect(ctx context.Context) error {
	client := influxdb2.NewClientWithOptions(m.cfg.URL, m.cfg.Token, m.cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	running, err := client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		client.Close()
		if err == nil {
			err = errors.New("server not ready")
		}
		m.logger.Warn().Err(err).Str("url", m.cfg.URL).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing ticks to backup file")
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx, client); err != nil {
		client.Close()
		return err
	}

	writer := client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	// closed by client.Close
	writeErrs := writer.Errors()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for writeErr := range writeErrs {
			m.failed.Add(1)
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).Msg("Error sending ticks to InfluxDB")
		}
	}()

	m.mu.Lock()
	m.client, m.writer, m.errsDone, m.mode = client, writer, done, ModeServer
	m.mu.Unlock()
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.cfg.BackupPath == "" {
		return errors.New("influxDB unreachable and no backup path configured")
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.mu.Lock()
	m.backupFile, m.backup, m.mode = file, gzip.NewWriter(file), ModeBackup
	m.mu.Unlock()
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context, client influxdb2.Client) error {
	orgs := client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	buckets := client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.logger.Info().Str("bucket", m.cfg.Bucket).Dur("retention", m.cfg.Retention).Msg("Bucket not found, creating")
	var rules []domain.RetentionRule
	if m.cfg.Retention > 0 {
		expire := domain.RetentionRuleTypeExpire
		rules = append(rules, domain.RetentionRule{Type: &expire, EverySeconds: int64(m.cfg.Retention.Seconds())})
	}
	if _, err := buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, rules...); err != nil {
		return fmt.Errorf("creating bucket %q: %w", m.cfg.Bucket, err)
	}
	return nil
}

// Mode reports where points currently go.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Stats returns the point counters.
func (m *Manager) Stats() Stats {
	return Stats{Written: m.written.Load(), BackedUp: m.backedUp.Load(), Failed: m.failed.Load()}
}

// WritePoint hands point to the server writer or appends it to the backup.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.mode {
	case ModeServer:
		m.writer.WritePoint(point)
		m.written.Add(1)
		return nil
	case ModeBackup:
		line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
		if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
		}
		m.backedUp.Add(1)
		return nil
	}
	return errors.New("influxDB manager not connected")
}

// Close flushes pending writes and releases the client or backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	writer, client, done := m.writer, m.client, m.errsDone
	backup, file := m.backup, m.backupFile
	m.writer, m.client, m.backup, m.backupFile = nil, nil, nil, nil
	m.mode = ModeNone
	m.mu.Unlock()

	if writer != nil {
		writer.Flush()
	}
	if client != nil {
		client.Close()
		<-done
	}

	var errs []error
	if backup != nil {
		errs = append(errs, backup.Close())
	}
	if file != nil {
		errs = append(errs, file.Close())
	}
	if s := m.Stats(); s.Written+s.BackedUp > 0 {
		m.logger.Info().Int64("written", s.Written).Int64("backedUp", s.BackedUp).Int64("failed", s.Failed).
			Msg("InfluxDB closed")
	}
	return errors.Join(errs...)
}
