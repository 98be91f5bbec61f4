package geiger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errSourceClosed = errors.New("fake source closed")

// fakeSource serves lines pushed onto a channel and counts Close calls.
type fakeSource struct {
	lines    chan []byte
	closed   chan struct{}
	once     sync.Once
	closes   atomic.Int32
	reads    atomic.Int32
	failWith error
}

func newFakeSource(lines ...string) *fakeSource {
	f := &fakeSource{
		lines:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	for _, l := range lines {
		f.lines <- []byte(l)
	}
	return f
}

func (f *fakeSource) ReadLine() ([]byte, error) {
	f.reads.Add(1)
	select {
	case <-f.closed:
		return nil, errSourceClosed
	default:
	}
	select {
	case l, ok := <-f.lines:
		if !ok {
			if f.failWith != nil {
				return nil, f.failWith
			}
			return nil, io.EOF
		}
		return l, nil
	case <-f.closed:
		return nil, errSourceClosed
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.closed) })
	return nil
}

// stepClock advances one second per call.
func stepClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)-1) * time.Second)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, src *fakeSource, opts Options) *Controller {
	t.Helper()
	opts.Logger = discardLogger()
	if opts.Now == nil {
		opts.Now = stepClock()
	}
	c, err := NewController(func() (LineSource, error) { return src, nil }, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Stop() })
	return c
}

func waitForCount(t *testing.T, c *Controller, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Summary().Count >= n },
		time.Second, time.Millisecond, "want %d samples", n)
}

func TestController_EndToEnd(t *testing.T) {
	src := newFakeSource("100\n", "144\n", "0\n")
	c := newTestController(t, src, Options{})

	readings, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Start())
	require.Equal(t, Running, c.State())

	var got []Reading
	for len(got) < 3 {
		select {
		case r := <-readings:
			got = append(got, r)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d readings", len(got))
		}
	}

	want := []Statistics{
		{100, 10.0, 0.6623, 0.0662, 5805.2980, 580.5298},
		{144, 12.0, 0.9536, 0.0795, 8359.6291, 696.6358},
		{0, 0, 0, 0, 0, 0},
	}
	for i, r := range got {
		require.Equal(t, time.Duration(i+1)*time.Second, r.Elapsed)
		require.InDelta(t, want[i].CPM, r.CPM, 1e-9)
		require.InDelta(t, want[i].CPMError, r.CPMError, 1e-4)
		require.InDelta(t, want[i].USvPerHour, r.USvPerHour, 1e-4)
		require.InDelta(t, want[i].USvPerHourError, r.USvPerHourError, 1e-4)
		require.InDelta(t, want[i].USvPerYear, r.USvPerYear, 1e-3)
		require.InDelta(t, want[i].USvPerYearError, r.USvPerYearError, 1e-3)
	}

	latest, ok := c.Latest()
	require.True(t, ok)
	require.Equal(t, got[2], latest)

	s := c.Stop()
	require.Equal(t, Stopped, c.State())
	require.Equal(t, 3, s.Count)
	require.Equal(t, 3*time.Second, s.Duration)
	require.InDelta(t, 244.0/3, s.MeanCPM, 1e-9)
	require.NoError(t, c.Err())
	require.Equal(t, int32(1), src.closes.Load())

	_, open := <-readings
	require.False(t, open, "subscriber channel should be closed after Stop")
}

func TestController_SkipMalformed(t *testing.T) {
	src := newFakeSource("abc\n", "100\n")
	c := newTestController(t, src, Options{OnParseError: SkipMalformed})

	require.NoError(t, c.Start())
	waitForCount(t, c, 1)

	s := c.Summary()
	require.Equal(t, 1, s.Count)
	require.Equal(t, 100.0, s.Samples[0].CPM)
	require.Equal(t, 1, s.Skipped)
	require.Equal(t, Running, c.State())
}

func TestController_AbortOnMalformed(t *testing.T) {
	src := newFakeSource("abc\n", "100\n")
	c := newTestController(t, src, Options{OnParseError: AbortOnMalformed})

	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.ErrorIs(t, err, ErrParse)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "abc", perr.Token)

	require.Equal(t, Stopped, c.State())
	require.Zero(t, c.Summary().Count)
	require.Equal(t, int32(1), src.closes.Load())
}

func TestController_ReadErrorStopsRun(t *testing.T) {
	src := newFakeSource("100\n")
	src.failWith = errors.New("device unplugged")
	close(src.lines)
	c := newTestController(t, src, Options{})

	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Wait(ctx)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorContains(t, err, "device unplugged")
	require.Equal(t, Stopped, c.State())
	require.Equal(t, 1, c.Summary().Count)
	require.Equal(t, int32(1), src.closes.Load())

	// Stop after a fatal error is still safe and does not close again.
	s := c.Stop()
	require.Equal(t, 1, s.Count)
	require.Equal(t, int32(1), src.closes.Load())
}

func TestController_ConnectionError(t *testing.T) {
	c, err := NewController(func() (LineSource, error) {
		return nil, errors.New("no such port")
	}, Options{Logger: discardLogger()})
	require.NoError(t, err)

	err = c.Start()
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, Stopped, c.State())
	require.ErrorIs(t, c.Err(), ErrConnection)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after a failed Start")
	}
	require.Zero(t, c.Stop().Count)
}

func TestController_StopDuringSlowOpen(t *testing.T) {
	src := newFakeSource("100\n")
	opening := make(chan struct{})
	unblock := make(chan struct{})
	c, err := NewController(func() (LineSource, error) {
		close(opening)
		<-unblock
		return src, nil
	}, Options{Logger: discardLogger(), Now: stepClock()})
	require.NoError(t, err)

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start() }()
	<-opening

	// The controller is not locked while the opener blocks.
	require.Equal(t, Idle, c.State())
	_, ok := c.Latest()
	require.False(t, ok)
	require.NoError(t, c.Start(), "Start while opening is a no-op")

	stopped := make(chan Summary, 1)
	go func() { stopped <- c.Stop() }()
	require.Eventually(t, func() bool { return c.State() == Stopped }, time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned before the opener finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(unblock)
	require.ErrorIs(t, <-startErr, ErrInvalidTransition)
	require.Zero(t, (<-stopped).Count)
	require.Equal(t, int32(1), src.closes.Load())
	require.Zero(t, src.reads.Load(), "no read after Stop won the race")
	<-c.Done()
}

func TestController_TotalsOmitSamples(t *testing.T) {
	src := newFakeSource("100\n", "bad\n", "144\n")
	c := newTestController(t, src, Options{})
	require.NoError(t, c.Start())
	waitForCount(t, c, 2)

	totals := c.Totals()
	require.Nil(t, totals.Samples)
	require.Equal(t, 2, totals.Count)
	require.Equal(t, 1, totals.Skipped)
	require.InDelta(t, 122.0, totals.MeanCPM, 1e-12)

	s := c.Stop()
	require.Len(t, s.Samples, 2)
	require.Equal(t, s.Count, totals.Count)
}

func TestController_InvalidTransitions(t *testing.T) {
	src := newFakeSource()
	c := newTestController(t, src, Options{})

	require.ErrorIs(t, c.Pause(), ErrInvalidTransition)
	require.ErrorIs(t, c.Resume(), ErrInvalidTransition)
	require.Equal(t, Idle, c.State())

	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "Start while Running is a no-op")
	require.ErrorIs(t, c.Resume(), ErrInvalidTransition)
	require.Equal(t, Running, c.State())

	require.NoError(t, c.Pause())
	require.ErrorIs(t, c.Pause(), ErrInvalidTransition)
	require.Equal(t, Paused, c.State())

	c.Stop()
	err := c.Start()
	require.ErrorIs(t, err, ErrInvalidTransition)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "start", terr.Op)
	require.Equal(t, Stopped, terr.From)
}

func TestController_PauseResumeKeepsEverySample(t *testing.T) {
	src := newFakeSource("1\n", "2\n", "3\n")
	c := newTestController(t, src, Options{})

	require.NoError(t, c.Start())
	waitForCount(t, c, 3)

	require.NoError(t, c.Pause())
	// Let the loop settle into the paused wait.
	time.Sleep(20 * time.Millisecond)
	reads := src.reads.Load()

	for _, l := range []string{"4\n", "5\n", "6\n"} {
		src.lines <- []byte(l)
	}
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, reads, src.reads.Load(), "no reads while paused")
	require.Equal(t, 3, c.Summary().Count)

	require.NoError(t, c.Start(), "Start from Paused resumes")
	waitForCount(t, c, 6)

	s := c.Stop()
	require.Equal(t, 6, s.Count)
	for i, p := range s.Samples {
		require.Equal(t, float64(i+1), p.CPM)
		if i > 0 {
			require.GreaterOrEqual(t, p.Elapsed, s.Samples[i-1].Elapsed)
		}
	}
	require.Equal(t, int32(1), src.closes.Load(), "pause must not close the device")
}

func TestController_StopWhilePaused(t *testing.T) {
	src := newFakeSource()
	c := newTestController(t, src, Options{})

	require.NoError(t, c.Start())
	require.NoError(t, c.Pause())

	done := make(chan Summary, 1)
	go func() { done <- c.Stop() }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while paused")
	}
	require.Equal(t, Stopped, c.State())
	require.Equal(t, int32(1), src.closes.Load())
}

func TestController_ConcurrentStop(t *testing.T) {
	src := newFakeSource("10\n")
	c := newTestController(t, src, Options{})
	require.NoError(t, c.Start())
	waitForCount(t, c, 1)

	var wg sync.WaitGroup
	summaries := make([]Summary, 8)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i] = c.Stop()
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), src.closes.Load())
	for _, s := range summaries {
		require.Equal(t, 1, s.Count)
	}
}

func TestController_StopFromIdle(t *testing.T) {
	src := newFakeSource()
	c := newTestController(t, src, Options{})

	s := c.Stop()
	require.Zero(t, s.Count)
	require.Equal(t, Stopped, c.State())
	require.Zero(t, src.closes.Load(), "device was never opened")

	ch, cancel := c.Subscribe()
	defer cancel()
	_, open := <-ch
	require.False(t, open)
}

func TestController_SlowSubscriberDoesNotStall(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 40; i++ {
		src.lines <- []byte("5\n")
	}
	c := newTestController(t, src, Options{BufferSize: 2})

	slow, cancel := c.Subscribe()
	defer cancel()

	require.NoError(t, c.Start())
	waitForCount(t, c, 40)
	require.Len(t, slow, 2)
}

func TestController_SetCalibration(t *testing.T) {
	src := newFakeSource()
	c := newTestController(t, src, Options{})

	require.ErrorIs(t, c.SetCalibration(Calibration{}), ErrCalibration)

	require.NoError(t, c.SetCalibration(Calibration{CPMPerUSvPerHour: 100, HoursPerYear: 8766}))
	require.NoError(t, c.Start())
	src.lines <- []byte("200\n")
	waitForCount(t, c, 1)

	latest, ok := c.Latest()
	require.True(t, ok)
	require.InDelta(t, 2.0, latest.USvPerHour, 1e-12)
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(nil, Options{})
	require.Error(t, err)

	_, err = NewController(func() (LineSource, error) { return nil, nil },
		Options{Calibration: Calibration{CPMPerUSvPerHour: -1, HoursPerYear: 1}})
	require.ErrorIs(t, err, ErrCalibration)
}

func TestRunState_String(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "paused", Paused.String())
	require.Equal(t, "stopped", Stopped.String())
	require.Equal(t, "RunState(9)", RunState(9).String())
}
