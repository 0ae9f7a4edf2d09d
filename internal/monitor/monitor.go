package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anchorcast/anchorcast/internal/influx"
	"github.com/anchorcast/anchorcast/internal/tracking"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// StatusFileName is rewritten with the latest status every interval.
const StatusFileName = "status.txt"

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Influx    *influx.Manager
	Logger    *slog.Logger
	StatusDir string
	SessionID string
	Interval  time.Duration
	// LastJournalWrite reports the duration of the last journal flush, if the
	// backend tracks one.
	LastJournalWrite func() time.Duration
}

// TickPerformance is the status snapshot written to the status file.
type TickPerformance struct {
	Time             time.Time `json:"time"`
	Frame            uint64    `json:"frame"`
	Ticks            uint64    `json:"ticks"`
	Observations     int       `json:"observations"`
	Failures         int       `json:"failures"`
	Registered       int       `json:"registered"`
	PendingLoads     int       `json:"pendingLoads"`
	MediaOwner       string    `json:"mediaOwner,omitempty"`
	MediaKind        string    `json:"mediaKind,omitempty"`
	TickDurationMs   float64   `json:"tickDurationMs"`
	LastJournalWrite float64   `json:"lastJournalWriteMs"`
	Telemetry        string    `json:"telemetry,omitempty"`
	TelemetryFailed  int64     `json:"telemetryFailed,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	last  tracking.TickStats
	ticks uint64
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Observe records one tick and forwards it to InfluxDB.
func (s *Service) Observe(stats tracking.TickStats) {
	s.mu.Lock()
	s.last = stats
	s.ticks++
	s.mu.Unlock()

	if s.deps.Influx == nil {
		return
	}
	if err := s.deps.Influx.WritePoint(s.TickPoint(stats)); err != nil {
		s.deps.Logger.Debug("writing tick point", "error", err)
	}
}

// TickPoint converts tick stats to an InfluxDB point.
func (s *Service) TickPoint(stats tracking.TickStats) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("tick").
		AddTag("session", s.deps.SessionID).
		AddField("frame", int64(stats.Frame)).
		AddField("observations", stats.Observations).
		AddField("failures", stats.Failures).
		AddField("resolved", stats.Resolved).
		AddField("registered", stats.Registered).
		AddField("pending_loads", stats.PendingLoads).
		AddField("duration_ms", float64(stats.Duration.Microseconds())/1000).
		SetTime(time.Now())
	if stats.MediaOwner != "" {
		p.AddTag("media_owner", string(stats.MediaOwner))
		p.AddTag("media_kind", string(stats.MediaKind))
	}
	return p
}

// GetProgramStatus returns the current status as printable lines and as a struct.
func (s *Service) GetProgramStatus() (output []string, perf TickPerformance) {
	s.mu.RLock()
	last, ticks := s.last, s.ticks
	s.mu.RUnlock()

	perf = TickPerformance{
		Time:           time.Now(),
		Frame:          last.Frame,
		Ticks:          ticks,
		Observations:   last.Observations,
		Failures:       last.Failures,
		Registered:     last.Registered,
		PendingLoads:   last.PendingLoads,
		MediaOwner:     string(last.MediaOwner),
		MediaKind:      string(last.MediaKind),
		TickDurationMs: float64(last.Duration.Microseconds()) / 1000,
	}
	if s.deps.LastJournalWrite != nil {
		perf.LastJournalWrite = float64(s.deps.LastJournalWrite().Microseconds()) / 1000
	}
	if s.deps.Influx != nil {
		perf.Telemetry = string(s.deps.Influx.Mode())
		perf.TelemetryFailed = s.deps.Influx.Stats().Failed
	}

	perfStr, err := json.MarshalIndent(perf, "", "  ")
	if err != nil {
		perfStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(perfStr))
	return output, perf
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor")

		var statusFile *os.File
		if s.deps.StatusDir != "" {
			f, err := os.Create(filepath.Join(s.deps.StatusDir, StatusFileName))
			if err != nil {
				logger.Error("Error creating status file", "error", err)
			} else {
				statusFile = f
				defer statusFile.Close()
			}
		}

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if statusFile == nil {
					continue
				}
				statusStr, _ := s.GetProgramStatus()
				if err := statusFile.Truncate(0); err != nil {
					logger.Error("Error truncating status file", "error", err)
					continue
				}
				if _, err := statusFile.Seek(0, 0); err != nil {
					continue
				}
				for _, line := range statusStr {
					statusFile.WriteString(line + "\n")
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.stopChan = nil
	done := s.done
	s.mu.Unlock()
	<-done
}
