package headless

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anchorcast/anchorcast/pkg/core"
)

const maxTraceLine = 1 << 20

type traceFrame struct {
	Seq            uint64                   `json:"seq"`
	Time           time.Time                `json:"time"`
	CameraTracking *bool                    `json:"cameraTracking"`
	Markers        []core.MarkerObservation `json:"markers"`
}

// TraceSource replays frames from a JSON-lines trace, one frame per line.
// Blank lines and lines starting with # are skipped; malformed lines are
// logged and skipped.
type TraceSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	logger  *slog.Logger

	line     int
	seq      uint64
	frames   int
	skipped  int
	done     chan struct{}
	doneOnce sync.Once
}

// OpenTrace opens a trace file.
func OpenTrace(path string, logger *slog.Logger) (*TraceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	src := NewTraceSource(f, logger)
	src.closer = f
	return src, nil
}

// NewTraceSource reads frames from r.
func NewTraceSource(r io.Reader, logger *slog.Logger) *TraceSource {
	if logger == nil {
		logger = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxTraceLine)
	return &TraceSource{scanner: sc, logger: logger, done: make(chan struct{})}
}

// CurrentFrame returns the next frame of the trace, or nil once it is exhausted.
func (s *TraceSource) CurrentFrame() *core.Frame {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var tf traceFrame
		if err := json.Unmarshal([]byte(text), &tf); err != nil {
			s.skipped++
			s.logger.Warn("skipping malformed trace line", "line", s.line, "error", err)
			continue
		}

		s.seq++
		if tf.Seq == 0 {
			tf.Seq = s.seq
		}
		if tf.Time.IsZero() {
			tf.Time = time.Now()
		}
		s.frames++
		return &core.Frame{
			Sequence:       tf.Seq,
			Timestamp:      tf.Time,
			CameraTracking: tf.CameraTracking == nil || *tf.CameraTracking,
			Observations:   tf.Markers,
		}
	}
	if err := s.scanner.Err(); err != nil {
		s.logger.Error("reading trace", "line", s.line, "error", err)
	}
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed once the trace is exhausted.
func (s *TraceSource) Done() <-chan struct{} {
	return s.done
}

// Frames returns the number of frames delivered so far.
func (s *TraceSource) Frames() int {
	return s.frames
}

// Skipped returns the number of malformed lines skipped so far.
func (s *TraceSource) Skipped() int {
	return s.skipped
}

// Close closes the underlying file, if any.
func (s *TraceSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
