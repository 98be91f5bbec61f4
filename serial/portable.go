package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	bugst "go.bug.st/serial"
)

// PortableReader is a line reader backed by go.bug.st/serial. It works on
// every platform that library supports, at the cost of one extra buffering
// layer compared to SerialReader.
type PortableReader struct {
	port      bugst.Port
	config    Config
	readMu    sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	buf       []byte
	lines     lineBuffer
}

// OpenPortable opens cfg.Device as an 8N1 port and applies cfg.ReadTimeout.
func OpenPortable(cfg Config) (*PortableReader, error) {
	cfg = cfg.withDefaults()
	port, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	timeout := bugst.NoTimeout
	if cfg.ReadTimeout > 0 {
		timeout = cfg.ReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &PortableReader{
		port:   port,
		config: cfg,
		buf:    make([]byte, 4096),
		lines:  newLineBuffer(cfg),
	}, nil
}

// ReadLine has the same contract as SerialReader.ReadLine.
func (p *PortableReader) ReadLine() ([]byte, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}
	if line, ok := p.lines.next(); ok {
		return line, nil
	}

	dl := newDeadline(p.config.ReadTimeout)
	for {
		if _, open := dl.remaining(); !open {
			return nil, nil
		}
		n, err := p.port.Read(p.buf)
		if err != nil {
			if p.closed.Load() || isPortClosed(err) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if n == 0 {
			if p.closed.Load() {
				return nil, ErrClosed
			}
			if p.config.ReadTimeout > 0 {
				return nil, nil
			}
			// No timeout configured: a zero read means the device went away.
			return nil, io.EOF
		}
		p.lines.write(p.buf[:n])
		if line, ok := p.lines.next(); ok {
			return line, nil
		}
	}
}

// ReadLinesLoop has the same contract as SerialReader.ReadLinesLoop.
func (p *PortableReader) ReadLinesLoop(onLine func(string), onError func(error)) {
	readLinesLoop(p, onLine, onError)
}

// Close releases the port. go.bug.st/serial interrupts a pending Read on
// Close, so this does not wait for the read lock.
func (p *PortableReader) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.port.Close()
	})
	return err
}

func isPortClosed(err error) bool {
	var perr *bugst.PortError
	return errors.As(err, &perr) && perr.Code() == bugst.PortClosed
}
