//go:build !linux

package serial

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("serial: termios reader requires linux, use OpenPortable on " + runtime.GOOS)

// SerialReader is only available on Linux. Use PortableReader elsewhere.
type SerialReader struct{}

// Open always fails outside Linux.
func Open(cfg Config) (*SerialReader, error) {
	return nil, errUnsupported
}

func (s *SerialReader) ReadLine() ([]byte, error) { return nil, errUnsupported }

func (s *SerialReader) ReadLinesLoop(onLine func(string), onError func(error)) {
	onError(errUnsupported)
}

func (s *SerialReader) Close() error { return nil }
