package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anchorcast/anchorcast/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 4096
	ackChSize         = 16
	writeWait         = 5 * time.Second
	ackTimeout        = 10 * time.Second
)

// Backoff bounds reconnect attempts after the journal stream drops.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff gives up after about 20s. A replay session seldom lasts much
// longer, and its events keep queueing in the send buffer meanwhile.
var DefaultBackoff = Backoff{Base: 250 * time.Millisecond, Max: 4 * time.Second, Attempts: 8}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max < b.Base {
		b.Max = max(DefaultBackoff.Max, b.Base)
	}
	if b.Attempts <= 0 {
		b.Attempts = DefaultBackoff.Attempts
	}
	return b
}

// delay is the wait before the given 1-based attempt.
func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// connection carries journal envelopes over one WebSocket at a time. A single
// write goroutine lives for the whole connection lifetime and waits while the
// socket is down, so queued events survive a reconnect and are written in
// order. The envelope whose write failed is retried first on the new socket.
type connection struct {
	mu           sync.Mutex
	conn         *ws.Conn
	ready        chan struct{} // closed while conn is usable
	reconnecting bool
	closed       bool

	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{}

	wsURL   string
	secret  string
	backoff Backoff

	// start_session envelope of the open session, replayed first after a reconnect
	startMsg []byte

	dropped    atomic.Int64
	reconnects atomic.Int64

	logger *slog.Logger
}

func newConnection(logger *slog.Logger, backoff Backoff, sendBuffer int) *connection {
	if logger == nil {
		logger = slog.Default()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &connection{
		ready:   make(chan struct{}),
		sendCh:  make(chan []byte, sendBuffer),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		backoff: backoff.withDefaults(),
		logger:  logger,
	}
}

// dial connects and starts the write loop.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	if !c.publish(conn) {
		return fmt.Errorf("connection closed while dialing")
	}
	go c.writeLoop()
	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// publish makes conn the live socket and starts its read loop.
func (c *connection) publish(conn *ws.Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.reconnecting = false
	close(c.ready)
	c.mu.Unlock()

	go c.readLoop(conn)
	return true
}

// await blocks until a socket is live. It returns nil once closed.
func (c *connection) await() *ws.Conn {
	for {
		c.mu.Lock()
		conn, ready := c.conn, c.ready
		c.mu.Unlock()
		if conn != nil {
			return conn
		}
		select {
		case <-ready:
		case <-c.done:
			return nil
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

func (c *connection) writeLoop() {
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case data = <-c.sendCh:
		}

		for retry := false; ; retry = true {
			conn := c.await()
			if conn == nil {
				return
			}
			if retry && c.isStart(data) {
				break // reconnect already replayed it
			}
			if err := write(conn, data); err != nil {
				c.lost(conn, err)
				continue
			}
			break
		}
	}
}

// readLoop routes acks from one socket until it fails.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Unexpected journal stream message", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// lost retires conn and starts one reconnect. Errors from a socket that was
// already retired, or after close, are ignored, so the read and write loops
// failing together reconnect once.
func (c *connection) lost(conn *ws.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
	start := !c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("Journal stream lost", "error", err, "queued", len(c.sendCh))
	if start {
		go c.reconnect()
	}
}

func (c *connection) reconnect() {
	for attempt := 1; attempt <= c.backoff.Attempts; attempt++ {
		wait := c.backoff.delay(attempt)
		c.logger.Info("Reconnecting journal stream", "attempt", attempt, "backoff", wait)

		timer := time.NewTimer(wait)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		// the collector needs the session before any further events
		if start := c.start(); start != nil {
			if err := write(conn, start); err != nil {
				c.logger.Warn("Failed to replay start_session after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		if c.publish(conn) {
			c.reconnects.Add(1)
			c.logger.Info("Journal stream reconnected", "attempt", attempt, "queued", len(c.sendCh))
		}
		return
	}

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
	c.logger.Error("Journal stream reconnect failed, events will queue until the buffer fills",
		"attempts", c.backoff.Attempts)
}

func (c *connection) setStart(data []byte) {
	c.mu.Lock()
	c.startMsg = data
	c.mu.Unlock()
}

func (c *connection) start() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startMsg
}

func (c *connection) isStart(data []byte) bool {
	start := c.start()
	return start != nil && bytes.Equal(start, data)
}

// send queues data for the write loop without blocking. Data that does not fit
// is dropped and counted.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.dropped.Add(1)
		c.logger.Warn("Journal stream send buffer full, dropping envelope", "size", len(data))
	}
}

// sendAndWait sends data and blocks until the server acknowledges with a
// matching ack message or the timeout expires. Acks left over from a
// start_session replay are discarded first.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	for drained := false; !drained; {
		select {
		case <-c.ackCh:
		default:
			drained = true
		}
	}
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and stops every goroutine.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	// WriteControl may run concurrently with the write loop
	_ = conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return conn.Close()
}
