//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// SerialReader provides killable, line-oriented access to a Linux serial port.
// ReadLine must be called from one goroutine at a time; Close may be called
// from any goroutine, including while a ReadLine is blocked.
type SerialReader struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	buf       []byte
	lines     lineBuffer
}

// Open opens a serial port using the provided Config and returns a SerialReader.
// The port is configured for raw, 8N1, non-canonical operation.
func Open(cfg Config) (*SerialReader, error) {
	cfg = cfg.withDefaults()
	baud, err := baudToUnix(cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK|syscall.O_CLOEXEC, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	if err := configure(fd, baud); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	// Turn back into blocking mode now that config is done; poll handles waiting.
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &SerialReader{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
		buf:    make([]byte, 4096),
		lines:  newLineBuffer(cfg),
	}, nil
}

func configure(fd int, baud uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	// VMIN=1, VTIME=0: the timeout is enforced by poll, not the line discipline.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// ReadLine reads one delimiter-terminated line without the delimiter.
// It returns (nil, nil) when Config.ReadTimeout elapses before a full line
// arrives, and ErrClosed once Close has been called.
func (s *SerialReader) ReadLine() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	if line, ok := s.lines.next(); ok {
		return line, nil
	}

	dl := newDeadline(s.config.ReadTimeout)
	for {
		left, open := dl.remaining()
		if !open {
			return nil, nil
		}
		wait := -1
		if left > 0 {
			wait = int((left + time.Millisecond - 1) / time.Millisecond)
		}

		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, wait)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if pfd[1].Revents != 0 {
			return nil, ErrClosed
		}
		if pfd[0].Revents&unix.POLLIN != 0 {
			m, err := s.file.Read(s.buf)
			if err != nil {
				return nil, err
			}
			if m == 0 {
				return nil, io.EOF
			}
			s.lines.write(s.buf[:m])
			if line, ok := s.lines.next(); ok {
				return line, nil
			}
			continue
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil, fmt.Errorf("device %s: %w", s.config.Device, io.ErrUnexpectedEOF)
		}
	}
}

// ReadLinesLoop continuously reads lines and invokes onLine for each one.
// Timeouts are retried silently. On a read error onError is called and the
// loop exits; after Close the loop exits without calling onError.
func (s *SerialReader) ReadLinesLoop(onLine func(string), onError func(error)) {
	readLinesLoop(s, onLine, onError)
}

// Close closes the serial port and unblocks any pending ReadLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		unix.Write(s.pipeW, []byte{1})

		// Wait for an in-flight ReadLine to leave poll before releasing fds.
		s.readMu.Lock()
		defer s.readMu.Unlock()

		err = s.file.Close()
		unix.Close(s.pipeR)
		unix.Close(s.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}
