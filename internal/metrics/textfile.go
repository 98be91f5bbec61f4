// Package metrics renders acquisition state in the Prometheus text
// exposition format, for node_exporter's textfile collector or any other
// scraper that reads .prom files.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	geiger "github.com/luhtfiimanal/go-geiger"
)

// Metric names.
const (
	MetricCountRate       = "geiger_count_rate_cpm"
	MetricCountRateError  = "geiger_count_rate_error_cpm"
	MetricDoseRateHour    = "geiger_dose_rate_usv_per_hour"
	MetricDoseRateHourErr = "geiger_dose_rate_error_usv_per_hour"
	MetricDoseRateYear    = "geiger_dose_rate_usv_per_year"
	MetricDoseRateYearErr = "geiger_dose_rate_error_usv_per_year"
	MetricElapsed         = "geiger_elapsed_seconds"
	MetricSamples         = "geiger_samples_total"
	MetricSkipped         = "geiger_malformed_lines_total"
	MetricMeanCountRate   = "geiger_mean_count_rate_cpm"
	MetricRunState        = "geiger_run_state"
)

// Snapshot is the state exported on each write.
type Snapshot struct {
	State   geiger.RunState
	Latest  *geiger.Reading // nil before the first sample
	Summary geiger.Summary
}

// Families converts a snapshot into metric families, in a stable order.
func Families(s Snapshot) []*dto.MetricFamily {
	var out []*dto.MetricFamily
	if r := s.Latest; r != nil {
		out = append(out,
			gauge(MetricCountRate, "Latest count rate in counts per minute.", r.CPM),
			gauge(MetricCountRateError, "Counting-statistics error of the latest count rate.", r.CPMError),
			gauge(MetricDoseRateHour, "Latest dose rate in microsieverts per hour.", r.USvPerHour),
			gauge(MetricDoseRateHourErr, "Error of the latest hourly dose rate.", r.USvPerHourError),
			gauge(MetricDoseRateYear, "Latest dose rate projected to microsieverts per year.", r.USvPerYear),
			gauge(MetricDoseRateYearErr, "Error of the latest yearly dose projection.", r.USvPerYearError),
			gauge(MetricElapsed, "Seconds since run start at the latest sample.", r.Elapsed.Seconds()),
		)
	}
	out = append(out,
		counter(MetricSamples, "Samples recorded in this run.", float64(s.Summary.Count)),
		counter(MetricSkipped, "Malformed detector lines skipped in this run.", float64(s.Summary.Skipped)),
		gauge(MetricMeanCountRate, "Mean count rate over the run.", s.Summary.MeanCPM),
		runState(s.State),
	)
	return out
}

// Encode writes the families of s in text format.
func Encode(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	for _, mf := range Families(s) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// Textfile writes snapshots to a fixed path. Each write goes to a temporary
// file in the same directory and is renamed into place, so a concurrent
// scrape never sees a partial file.
type Textfile struct {
	Path string
}

// Write encodes s and atomically replaces the file.
func (t Textfile) Write(s Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(t.Path)
	tmp, err := os.CreateTemp(dir, ".geiger-*.prom.tmp")
	if err != nil {
		return fmt.Errorf("metrics: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("metrics: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("metrics: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.Path); err != nil {
		return fmt.Errorf("metrics: rename: %w", err)
	}
	return nil
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

// runState emits one series per state with value 1 for the current one.
func runState(current geiger.RunState) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: ptr(MetricRunState),
		Help: ptr("Acquisition run state (1 for the current state)."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, st := range []geiger.RunState{geiger.Idle, geiger.Running, geiger.Paused, geiger.Stopped} {
		v := 0.0
		if st == current {
			v = 1
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{Name: ptr("state"), Value: ptr(st.String())}},
			Gauge: &dto.Gauge{Value: ptr(v)},
		})
	}
	return mf
}

func ptr[T any](v T) *T { return &v }
