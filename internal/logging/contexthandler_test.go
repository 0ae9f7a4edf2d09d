package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSessionLogger(session string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewSessionHandler(inner, session)), &buf
}

func TestSessionHandler_NoContextValues(t *testing.T) {
	logger, buf := newSessionLogger("")
	logger.Info("replaying trace")

	out := buf.String()
	assert.NotContains(t, out, "session=")
	assert.NotContains(t, out, "frame=")
	assert.NotContains(t, out, "marker=")
}

func TestSessionHandler_ExplicitMarkerWins(t *testing.T) {
	logger, buf := newSessionLogger("s1")
	ctx := WithMarker(WithFrame(context.Background(), 7), "croc")

	logger.InfoContext(ctx, "media released", "marker", "reel")

	out := buf.String()
	assert.Contains(t, out, "marker=reel")
	assert.Equal(t, 1, strings.Count(out, "marker="))
	assert.Contains(t, out, "frame=7")
}

func TestSessionHandler_FrameZeroIsStamped(t *testing.T) {
	logger, buf := newSessionLogger("s1")
	logger.InfoContext(WithFrame(context.Background(), 0), "first frame")
	assert.Contains(t, buf.String(), "frame=0")
}

func TestSessionHandler_KeepsSessionThroughDerivation(t *testing.T) {
	logger, buf := newSessionLogger("s1")
	logger.With("component", "binder").WithGroup("node").
		InfoContext(WithFrame(context.Background(), 3), "attached", "role", "surface")

	out := buf.String()
	assert.Contains(t, out, "component=binder")
	assert.Contains(t, out, "node.role=surface")
	assert.Contains(t, out, "node.session=s1")
	assert.Contains(t, out, "node.frame=3")
}

func TestContextAccessors(t *testing.T) {
	_, ok := FrameFrom(context.Background())
	assert.False(t, ok)
	_, ok = MarkerFrom(WithMarker(context.Background(), ""))
	assert.False(t, ok, "empty identity is not a marker")

	seq, ok := FrameFrom(WithFrame(context.Background(), 12))
	assert.True(t, ok)
	assert.Equal(t, uint64(12), seq)
}
