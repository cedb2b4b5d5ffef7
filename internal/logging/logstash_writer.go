// Package logging mirrors the process log stream to a Logstash TCP input
// without ever blocking the caller.
package logging

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// WriterConfig tunes the TCP mirror. Zero values fall back to defaults.
type WriterConfig struct {
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	RetryCooldown time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = 5 * time.Second
	}
	return c
}

// LogstashWriter forwards log lines over a single TCP connection. While the
// collector is unreachable, writes are dropped and reconnection attempts are
// rate-limited by the retry cooldown, so the log package never stalls.
type LogstashWriter struct {
	addr string
	cfg  WriterConfig

	mu        sync.Mutex
	conn      net.Conn
	nextRetry time.Time
	closed    bool
}

// NewLogstashWriter returns a writer mirroring log output to addr. Safe for
// concurrent use.
func NewLogstashWriter(addr string, cfg WriterConfig) (*LogstashWriter, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("logstash: empty address")
	}
	return &LogstashWriter{addr: addr, cfg: cfg.withDefaults()}, nil
}

// Write implements io.Writer. The payload is forwarded best-effort; a dead
// connection consumes the write and schedules a reconnect instead of
// returning an error to the logger.
func (w *LogstashWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	line := make([]byte, len(p))
	copy(line, p)
	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}

	if err := w.connectLocked(); err != nil {
		return len(p), nil
	}

	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}

	if _, err := w.conn.Write(line); err != nil {
		w.dropConnLocked()
		w.nextRetry = time.Now().Add(w.cfg.RetryCooldown)
		return len(p), nil
	}

	return len(p), nil
}

// Close tears down the underlying TCP connection.
func (w *LogstashWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.dropConnLocked()
}

func (w *LogstashWriter) connectLocked() error {
	if w.conn != nil {
		return nil
	}

	now := time.Now()
	if !w.nextRetry.IsZero() && now.Before(w.nextRetry) {
		return errRetryCooldown
	}

	conn, err := net.DialTimeout("tcp", w.addr, w.cfg.DialTimeout)
	if err != nil {
		w.nextRetry = now.Add(w.cfg.RetryCooldown)
		return err
	}

	w.conn = conn
	w.nextRetry = time.Time{}
	return nil
}

func (w *LogstashWriter) dropConnLocked() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

var errRetryCooldown = errors.New("logstash: retry cooldown in effect")
