package geiger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LineSource yields newline-delimited tokens from a detector.
//
// ReadLine blocks for at most the source's read timeout and returns a nil
// line with a nil error when nothing arrived in time. Close must be safe to
// call while ReadLine is blocked in another goroutine, and must make that
// ReadLine return.
type LineSource interface {
	ReadLine() ([]byte, error)
	Close() error
}

// Opener opens the detector. It is called once, by the first Start.
type Opener func() (LineSource, error)

// RunState is the lifecycle state of a Controller.
type RunState int

const (
	Idle RunState = iota
	Running
	Paused
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// ParsePolicy selects what the acquisition loop does with a malformed line.
type ParsePolicy int

const (
	// SkipMalformed logs the line and keeps running.
	SkipMalformed ParsePolicy = iota
	// AbortOnMalformed stops the run with the ParseError.
	AbortOnMalformed
)

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 16

// Reading is what the controller publishes for every accepted sample.
type Reading struct {
	Elapsed time.Duration
	Statistics
}

// Options configure a Controller. The zero value uses DefaultCalibration,
// SkipMalformed, slog.Default and time.Now.
type Options struct {
	Calibration  Calibration
	OnParseError ParsePolicy
	BufferSize   int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Controller owns one acquisition session: the run state, the device handle
// and the single goroutine that reads from it.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	open     Opener
	policy   ParsePolicy
	bufSize  int
	logger   *slog.Logger
	now      func() time.Time
	recorder *Recorder

	mu      sync.Mutex
	resumed *sync.Cond
	state   RunState
	cal     Calibration
	src     LineSource
	started time.Time
	opening bool // Opener in flight, mu released
	running bool // loop launched
	err     error
	skipped int
	latest  Reading
	hasLast bool
	subs    map[chan Reading]struct{}
	ended   bool
	done    chan struct{}
}

// NewController returns an Idle controller that will read from the source
// returned by open.
func NewController(open Opener, opts Options) (*Controller, error) {
	if open == nil {
		return nil, errors.New("geiger: nil opener")
	}
	if opts.Calibration == (Calibration{}) {
		opts.Calibration = DefaultCalibration()
	}
	if err := opts.Calibration.Validate(); err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		open:     open,
		policy:   opts.OnParseError,
		bufSize:  opts.BufferSize,
		logger:   opts.Logger,
		now:      opts.Now,
		recorder: NewRecorder(),
		cal:      opts.Calibration,
		subs:     make(map[chan Reading]struct{}),
		done:     make(chan struct{}),
	}
	c.resumed = sync.NewCond(&c.mu)
	return c, nil
}

// Start opens the detector and launches the acquisition loop. From Paused it
// behaves like Resume. From Running, or while another Start is opening the
// detector, it is a no-op. After Stop it fails with ErrInvalidTransition. A
// failure to open the detector stops the session and is returned wrapped in
// ErrConnection.
//
// The Opener runs without the controller lock held, so State, Latest and Stop
// stay responsive while a slow device opens. A Stop issued in that window
// wins: the new handle is closed and Start reports ErrInvalidTransition.
func (c *Controller) Start() error {
	c.mu.Lock()
	switch c.state {
	case Running:
		c.mu.Unlock()
		return nil
	case Paused:
		c.resumeLocked()
		c.mu.Unlock()
		return nil
	case Stopped:
		c.mu.Unlock()
		return &TransitionError{Op: "start", From: Stopped}
	}
	if c.opening {
		c.mu.Unlock()
		return nil
	}
	c.opening = true
	c.mu.Unlock()

	src, err := c.open()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opening = false
	c.resumed.Broadcast()

	if err != nil {
		c.err = fmt.Errorf("%w: %w", ErrConnection, err)
		c.state = Stopped
		c.endLocked()
		c.logger.Error("acquisition: open failed", "err", err)
		return c.err
	}
	if c.state == Stopped {
		c.release(src)
		c.endLocked()
		return &TransitionError{Op: "start", From: Stopped}
	}

	c.src = src
	c.started = c.now()
	c.running = true
	c.state = Running
	c.logger.Info("acquisition: started")
	go c.loop(src, c.started)
	return nil
}

// Pause suspends reading without closing the detector. Valid only while
// Running.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return &TransitionError{Op: "pause", From: c.state}
	}
	c.state = Paused
	c.logger.Info("acquisition: paused")
	return nil
}

// Resume continues a paused run. Valid only while Paused.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return &TransitionError{Op: "resume", From: c.state}
	}
	c.resumeLocked()
	return nil
}

func (c *Controller) resumeLocked() {
	c.state = Running
	c.resumed.Broadcast()
	c.logger.Info("acquisition: resumed")
}

// Stop ends the session, releases the detector and waits for the loop to
// exit. It is idempotent and safe to call concurrently; every call returns
// the final Summary.
func (c *Controller) Stop() Summary {
	c.mu.Lock()
	if c.state != Stopped {
		c.state = Stopped
		c.resumed.Broadcast()
		c.logger.Info("acquisition: stopping")
	}
	for c.opening {
		c.resumed.Wait()
	}
	src := c.src
	c.src = nil
	if !c.running {
		c.endLocked()
	}
	c.mu.Unlock()

	c.release(src)
	<-c.done
	return c.Summary()
}

// State returns the current run state.
func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the run, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the session has ended and the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the session ends or ctx is done. It returns the error
// that ended the run, or ctx.Err().
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartedAt returns the wall-clock start of the run, or the zero time if it
// never started.
func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SetCalibration replaces the calibration used for subsequent samples.
func (c *Controller) SetCalibration(cal Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cal = cal
	return nil
}

// Calibration returns the calibration currently in use.
func (c *Controller) Calibration() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cal
}

// Latest returns the most recently published reading.
func (c *Controller) Latest() (Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.hasLast
}

// Subscribe returns a channel receiving every published reading. A slow
// subscriber loses its oldest buffered readings rather than stalling the
// loop. The channel is closed when the session ends or cancel is called.
func (c *Controller) Subscribe() (<-chan Reading, func()) {
	ch := make(chan Reading, c.bufSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Summary returns the report of everything recorded so far.
func (c *Controller) Summary() Summary {
	return c.withSkipped(c.recorder.Summary())
}

// Totals is Summary without the Samples slice. It does not copy the series
// and is cheap enough to call on every reading.
func (c *Controller) Totals() Summary {
	return c.withSkipped(c.recorder.Totals())
}

func (c *Controller) withSkipped(s Summary) Summary {
	c.mu.Lock()
	s.Skipped = c.skipped
	c.mu.Unlock()
	return s
}

func (c *Controller) loop(src LineSource, started time.Time) {
	defer func() {
		c.mu.Lock()
		c.endLocked()
		c.mu.Unlock()
	}()

	for {
		if !c.awaitRunning() {
			return
		}
		line, err := src.ReadLine()
		if err != nil {
			if c.State() == Stopped {
				return
			}
			c.fail(fmt.Errorf("%w: %w", ErrIO, err))
			return
		}
		if line == nil {
			continue
		}
		if err := c.handle(line, started); err != nil {
			c.fail(err)
			return
		}
	}
}

// awaitRunning blocks while Paused and reports whether the loop should read.
func (c *Controller) awaitRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == Paused {
		c.resumed.Wait()
	}
	return c.state == Running
}

func (c *Controller) handle(line []byte, started time.Time) error {
	sample, err := ParseSample(line, c.now().Sub(started))
	if err != nil {
		if c.policy == AbortOnMalformed {
			return err
		}
		c.mu.Lock()
		c.skipped++
		c.mu.Unlock()
		c.logger.Warn("acquisition: skipping malformed reading", "token", string(line), "err", err)
		return nil
	}

	st := Compute(sample.CPM, c.Calibration())
	if err := c.recorder.Record(sample.Elapsed, st.CPM, st.CPMError); err != nil {
		return err
	}
	c.publish(Reading{Elapsed: sample.Elapsed, Statistics: st})
	return nil
}

func (c *Controller) publish(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest, c.hasLast = r, true
	for ch := range c.subs {
		select {
		case ch <- r:
			continue
		default:
		}
		// Full: drop the oldest so the subscriber sees the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r:
		default:
		}
		c.logger.Debug("acquisition: subscriber lagging, dropped a reading")
	}
}

// fail stops the run with err and releases the detector.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.state = Stopped
	src := c.src
	c.src = nil
	c.mu.Unlock()

	c.logger.Error("acquisition: run aborted", "err", err)
	c.release(src)
}

// release closes src. Each handle reaches here at most once because it is
// taken from c.src under the lock.
func (c *Controller) release(src LineSource) {
	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		c.logger.Warn("acquisition: close device", "err", err)
	}
}

// endLocked closes subscriber channels and Done. Called exactly once, after
// the loop has exited or when the session ends without one.
func (c *Controller) endLocked() {
	if c.ended {
		return
	}
	c.ended = true
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	close(c.done)
	s := c.recorder.Totals()
	c.logger.Info("acquisition: stopped", "samples", s.Count, "skipped", c.skipped, "mean_cpm", s.MeanCPM)
}
