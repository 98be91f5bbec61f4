// Package geiger turns a stream of count-rate lines from a Geiger-Müller
// detector into calibrated dose-rate readings.
//
// The pipeline has four parts:
//
//   - ParseCPM validates one raw line as a non-negative counts-per-minute value.
//   - Compute derives the Poisson counting error and the µSv/hr and µSv/yr
//     projections for a Calibration.
//   - Recorder keeps the ordered time series of a run and produces a Summary.
//   - Controller owns the run: it opens a LineSource, reads it on a single
//     goroutine, and publishes every accepted Reading to subscribers.
//
// Controller lifecycle:
//
//	Idle --Start--> Running <--Pause/Resume--> Paused
//	  \                |                          |
//	   `-----Stop------+-----------Stop-----------+--> Stopped
//
// Pause keeps the device open; the loop stops issuing reads until Resume.
// Stop is idempotent, releases the device exactly once and returns the final
// Summary. Commands issued in the wrong state fail with ErrInvalidTransition
// and leave the state unchanged; Start while Running is a no-op.
//
// Example usage:
//
//	ctrl, err := geiger.NewController(func() (geiger.LineSource, error) {
//	    return serial.OpenPortable(serial.Config{Device: "/dev/ttyUSB0", ReadTimeout: time.Second})
//	}, geiger.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	readings, cancel := ctrl.Subscribe()
//	defer cancel()
//	if err := ctrl.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	for r := range readings {
//	    fmt.Println(r.Elapsed, r.Statistics)
//	}
//
// Subscribers never block the loop: a full subscriber channel drops its
// oldest reading. Latest offers the same data as a poll.
package geiger
