package serial

import (
	"bytes"
	"errors"
	"time"
)

// Defaults applied by Open and OpenPortable when a Config field is zero.
const (
	DefaultBaudRate      = 9600
	DefaultDelimiter     = "\n"
	DefaultMaxLineLength = 1024
)

// ErrClosed is returned by ReadLine once the reader has been closed.
var ErrClosed = errors.New("serial: reader closed")

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device   string
	BaudRate int
	// Delimiter terminates each line. Default "\n"; a trailing "\r" is left
	// in the line for the caller to trim.
	Delimiter string
	// ReadTimeout bounds a single ReadLine call. Zero blocks indefinitely.
	ReadTimeout time.Duration
	// MaxLineLength caps buffered data without a delimiter. When exceeded the
	// buffered bytes are returned as one line so a noisy link cannot grow
	// memory without bound.
	MaxLineLength int
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	return c
}

// lineBuffer accumulates raw reads and splits them into lines.
type lineBuffer struct {
	delim   []byte
	max     int
	pending []byte
}

func newLineBuffer(cfg Config) lineBuffer {
	return lineBuffer{delim: []byte(cfg.Delimiter), max: cfg.MaxLineLength}
}

func (b *lineBuffer) write(p []byte) {
	b.pending = append(b.pending, p...)
}

// next pops the first complete line. The returned slice is a copy.
func (b *lineBuffer) next() ([]byte, bool) {
	if idx := bytes.Index(b.pending, b.delim); idx >= 0 {
		line := bytes.Clone(b.pending[:idx])
		b.pending = b.pending[idx+len(b.delim):]
		return line, true
	}
	if len(b.pending) > b.max {
		line := bytes.Clone(b.pending)
		b.pending = b.pending[:0]
		return line, true
	}
	return nil, false
}

// deadline tracks the remaining budget of one ReadLine call.
type deadline struct {
	at  time.Time
	set bool
}

func newDeadline(timeout time.Duration) deadline {
	if timeout <= 0 {
		return deadline{}
	}
	return deadline{at: time.Now().Add(timeout), set: true}
}

// remaining returns the time left and whether the deadline is still open.
// An unset deadline always reports (-1, true).
func (d deadline) remaining() (time.Duration, bool) {
	if !d.set {
		return -1, true
	}
	left := time.Until(d.at)
	return left, left > 0
}
