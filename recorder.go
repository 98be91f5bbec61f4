package geiger

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Point is one entry of the recorded time series.
type Point struct {
	Elapsed  time.Duration
	CPM      float64
	CPMError float64
}

// Summary aggregates a run.
type Summary struct {
	Count int
	// Duration is the elapsed time of the last recorded sample.
	Duration time.Duration
	MeanCPM  float64
	// MeanCPMError propagates the per-sample counting errors to the mean:
	// sqrt(Σ error²) / n.
	MeanCPMError float64
	// Skipped counts malformed lines dropped under SkipMalformed. The
	// Recorder leaves it zero; the Controller fills it in.
	Skipped int
	Samples []Point
}

// Mean returns the dose projections of the mean count rate.
func (s Summary) Mean(cal Calibration) Statistics {
	st := Compute(s.MeanCPM, cal)
	st.CPMError = s.MeanCPMError
	st.USvPerHourError = s.MeanCPMError / cal.CPMPerUSvPerHour
	st.USvPerYearError = st.USvPerHourError * cal.HoursPerYear
	return st
}

// Recorder is the append-only time series of a run. It is safe for one
// writer and any number of concurrent readers.
type Recorder struct {
	mu     sync.RWMutex
	points []Point
	sum    float64
	sumVar float64
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{points: make([]Point, 0, 256)}
}

// Record appends a point. Elapsed times must be non-decreasing.
func (r *Recorder) Record(elapsed time.Duration, cpm, cpmErr float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.points); n > 0 && elapsed < r.points[n-1].Elapsed {
		return fmt.Errorf("%w: %v after %v", ErrOutOfOrder, elapsed, r.points[n-1].Elapsed)
	}
	r.points = append(r.points, Point{Elapsed: elapsed, CPM: cpm, CPMError: cpmErr})
	r.sum += cpm
	r.sumVar += cpmErr * cpmErr
	return nil
}

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}

// Summary returns the aggregate report so far. The Samples slice is a copy
// and may be retained by the caller.
func (r *Recorder) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.totalsLocked()
	s.Samples = make([]Point, len(r.points))
	copy(s.Samples, r.points)
	return s
}

// Totals returns the aggregates of Summary with a nil Samples slice.
func (r *Recorder) Totals() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalsLocked()
}

func (r *Recorder) totalsLocked() Summary {
	n := len(r.points)
	s := Summary{Count: n}
	if n == 0 {
		return s
	}
	s.Duration = r.points[n-1].Elapsed
	s.MeanCPM = r.sum / float64(n)
	s.MeanCPMError = math.Sqrt(r.sumVar) / float64(n)
	return s
}
