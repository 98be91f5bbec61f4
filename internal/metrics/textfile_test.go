package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"

	geiger "github.com/luhtfiimanal/go-geiger"
)

func parse(t *testing.T, data []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	require.NoError(t, err)
	return mfs
}

func value(mf *dto.MetricFamily) float64 {
	m := mf.GetMetric()[0]
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestEncode_WithLatestReading(t *testing.T) {
	r := geiger.Reading{
		Elapsed:    90 * time.Second,
		Statistics: geiger.Compute(100, geiger.DefaultCalibration()),
	}
	data, err := Encode(Snapshot{
		State:   geiger.Running,
		Latest:  &r,
		Summary: geiger.Summary{Count: 3, Skipped: 1, MeanCPM: 81.5},
	})
	require.NoError(t, err)

	mfs := parse(t, data)
	require.Equal(t, 100.0, value(mfs[MetricCountRate]))
	require.Equal(t, 10.0, value(mfs[MetricCountRateError]))
	require.InDelta(t, 0.6623, value(mfs[MetricDoseRateHour]), 1e-4)
	require.InDelta(t, 5805.298, value(mfs[MetricDoseRateYear]), 1e-3)
	require.Equal(t, 90.0, value(mfs[MetricElapsed]))
	require.Equal(t, 3.0, value(mfs[MetricSamples]))
	require.Equal(t, dto.MetricType_COUNTER, mfs[MetricSamples].GetType())
	require.Equal(t, 1.0, value(mfs[MetricSkipped]))
	require.Equal(t, 81.5, value(mfs[MetricMeanCountRate]))

	states := map[string]float64{}
	for _, m := range mfs[MetricRunState].GetMetric() {
		states[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	require.Equal(t, map[string]float64{"idle": 0, "running": 1, "paused": 0, "stopped": 0}, states)
}

func TestEncode_BeforeFirstSample(t *testing.T) {
	data, err := Encode(Snapshot{State: geiger.Idle})
	require.NoError(t, err)

	mfs := parse(t, data)
	require.NotContains(t, mfs, MetricCountRate)
	require.Contains(t, mfs, MetricSamples)
	require.Contains(t, mfs, MetricRunState)
}

func TestTextfile_WriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	tf := Textfile{Path: filepath.Join(dir, "geiger.prom")}

	require.NoError(t, tf.Write(Snapshot{State: geiger.Running}))
	require.NoError(t, tf.Write(Snapshot{State: geiger.Stopped, Summary: geiger.Summary{Count: 7}}))

	data, err := os.ReadFile(tf.Path)
	require.NoError(t, err)
	require.Equal(t, 7.0, value(parse(t, data)[MetricSamples]))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestTextfile_MissingDirectory(t *testing.T) {
	tf := Textfile{Path: filepath.Join(t.TempDir(), "missing", "geiger.prom")}
	require.Error(t, tf.Write(Snapshot{}))
}
