package geiger

import (
	"fmt"
	"math"
)

// Reference calibration for an SBM-20 style tube.
const (
	DefaultCPMPerUSvPerHour = 151.0
	DefaultHoursPerYear     = 8766.0
)

// Calibration converts count rates into dose rates.
type Calibration struct {
	// CPMPerUSvPerHour is the detector's conversion factor K.
	CPMPerUSvPerHour float64
	HoursPerYear     float64
}

// DefaultCalibration returns K=151.0 and a 365.25 day year.
func DefaultCalibration() Calibration {
	return Calibration{
		CPMPerUSvPerHour: DefaultCPMPerUSvPerHour,
		HoursPerYear:     DefaultHoursPerYear,
	}
}

// Validate reports whether both factors are positive and finite.
func (c Calibration) Validate() error {
	if !(c.CPMPerUSvPerHour > 0) || math.IsInf(c.CPMPerUSvPerHour, 0) {
		return fmt.Errorf("%w: cpm per µSv/hr must be positive, got %v", ErrCalibration, c.CPMPerUSvPerHour)
	}
	if !(c.HoursPerYear > 0) || math.IsInf(c.HoursPerYear, 0) {
		return fmt.Errorf("%w: hours per year must be positive, got %v", ErrCalibration, c.HoursPerYear)
	}
	return nil
}

// Statistics are the values derived from one count rate.
type Statistics struct {
	CPM             float64
	CPMError        float64
	USvPerHour      float64
	USvPerHourError float64
	USvPerYear      float64
	USvPerYearError float64
}

// Compute derives counting-statistics error and dose-rate projections from a
// count rate. It is a pure function of its inputs; cpm is assumed to have
// been validated by ParseCPM.
func Compute(cpm float64, cal Calibration) Statistics {
	cpmErr := math.Sqrt(cpm)
	usvHr := cpm / cal.CPMPerUSvPerHour
	usvHrErr := cpmErr / cal.CPMPerUSvPerHour
	return Statistics{
		CPM:             cpm,
		CPMError:        cpmErr,
		USvPerHour:      usvHr,
		USvPerHourError: usvHrErr,
		USvPerYear:      usvHr * cal.HoursPerYear,
		USvPerYearError: usvHrErr * cal.HoursPerYear,
	}
}

func (s Statistics) String() string {
	return fmt.Sprintf("%.0f CPM ± %.1f | %.4f µSv/hr ± %.4f | %.4f µSv/yr ± %.4f",
		s.CPM, s.CPMError, s.USvPerHour, s.USvPerHourError, s.USvPerYear, s.USvPerYearError)
}
