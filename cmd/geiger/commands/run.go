package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	geiger "github.com/luhtfiimanal/go-geiger"
	"github.com/luhtfiimanal/go-geiger/internal/config"
	"github.com/luhtfiimanal/go-geiger/internal/metrics"
	"github.com/luhtfiimanal/go-geiger/serial"
)

var (
	device       string
	baudRate     int
	readTimeout  time.Duration
	driver       string
	cpmPerUSv    float64
	hoursPerYear float64
	onParseError string
	metricsFile  string
	tickEvery    time.Duration
	runFor       time.Duration
	printSamples bool
)

// run: acquire readings until interrupted, then print the summary.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire readings from the detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return acquire(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&device, "device", "d", "", "serial device, e.g. /dev/ttyUSB0")
	f.IntVarP(&baudRate, "baud", "b", config.DefaultBaudRate, "baud rate")
	f.DurationVar(&readTimeout, "timeout", config.DefaultReadTimeout, "read timeout")
	f.StringVar(&driver, "driver", config.DefaultDriver, "serial driver: termios|portable")
	f.Float64VarP(&cpmPerUSv, "cpm-per-usv", "k", geiger.DefaultCPMPerUSvPerHour, "calibration: CPM per µSv/hr")
	f.Float64Var(&hoursPerYear, "hours-per-year", geiger.DefaultHoursPerYear, "hours per year for yearly projection")
	f.StringVar(&onParseError, "on-parse-error", config.DefaultOnParseError, "malformed line policy: skip|abort")
	f.StringVar(&metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	f.DurationVar(&tickEvery, "tick", 0, "log elapsed time at this interval (0 disables)")
	f.DurationVar(&runFor, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.BoolVar(&printSamples, "samples", false, "print every recorded sample in the summary")
	return cmd
}

func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Device.Address = device
	}
	if f.Changed("baud") {
		cfg.Device.BaudRate = baudRate
	}
	if f.Changed("timeout") {
		cfg.Device.ReadTimeout = readTimeout
	}
	if f.Changed("driver") {
		cfg.Device.Driver = driver
	}
	if f.Changed("cpm-per-usv") {
		cfg.Calibration.CPMPerUSvPerHour = cpmPerUSv
	}
	if f.Changed("hours-per-year") {
		cfg.Calibration.HoursPerYear = hoursPerYear
	}
	if f.Changed("on-parse-error") {
		cfg.Acquisition.OnParseError = onParseError
	}
	if f.Changed("metrics-file") {
		cfg.Metrics.TextfilePath = metricsFile
	}
}

// opener returns the Opener for the configured driver.
func opener(dev config.DeviceConfig) geiger.Opener {
	return func() (geiger.LineSource, error) {
		if dev.Driver == config.DriverPortable {
			r, err := serial.OpenPortable(dev.Serial())
			if err != nil {
				return nil, err
			}
			return r, nil
		}
		r, err := serial.Open(dev.Serial())
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func acquire(ctx context.Context, out io.Writer) error {
	logger := slog.Default()
	ctrl, err := geiger.NewController(opener(cfg.Device), geiger.Options{
		Calibration:  cfg.Calibration.Calibration(),
		OnParseError: cfg.Acquisition.ParsePolicy(),
		BufferSize:   cfg.Acquisition.SubscriberBuffer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if runFor > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, runFor)
		defer cancelTimeout()
	}

	var exporter *metrics.Textfile
	if cfg.Metrics.TextfilePath != "" {
		exporter = &metrics.Textfile{Path: cfg.Metrics.TextfilePath}
	}
	export := func() {
		if exporter == nil {
			return
		}
		snap := metrics.Snapshot{State: ctrl.State(), Summary: ctrl.Totals()}
		if r, ok := ctrl.Latest(); ok {
			snap.Latest = &r
		}
		if err := exporter.Write(snap); err != nil {
			logger.Warn("metrics: write failed", "path", exporter.Path, "err", err)
		}
	}

	readings, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	logger.Info("connecting to detector",
		"device", cfg.Device.Address,
		"baud", cfg.Device.BaudRate,
		"driver", cfg.Device.Driver,
	)
	if err := ctrl.Start(); err != nil {
		return err
	}
	export()

	if configPath != "" {
		go func() {
			if err := config.WatchCalibration(ctx, configPath, logger, func(cal geiger.Calibration) {
				if err := ctrl.SetCalibration(cal); err != nil {
					logger.Warn("calibration reload rejected", "err", err)
					return
				}
				logger.Info("calibration updated", "cpm_per_usv_per_hour", cal.CPMPerUSvPerHour)
			}); err != nil {
				logger.Error("config watcher stopped", "err", err)
			}
		}()
	}

	toggles, stopToggles := pauseSignals()
	defer stopToggles()

	var tick <-chan time.Time
	if tickEvery > 0 {
		t := time.NewTicker(tickEvery)
		defer t.Stop()
		tick = t.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case r, ok := <-readings:
			if !ok {
				break loop
			}
			fmt.Fprintln(out, r.Statistics)
			logger.Debug("reading",
				"elapsed", r.Elapsed,
				"cpm", r.CPM,
				"usv_per_hour", r.USvPerHour,
			)
			export()
		case <-toggles:
			togglePause(ctrl, logger)
			export()
		case <-tick:
			logger.Info("elapsed", "time", formatClock(time.Since(ctrl.StartedAt())))
		}
	}

	summary := ctrl.Stop()
	export()
	printSummary(out, summary, ctrl.Calibration(), printSamples)
	return ctrl.Err()
}

func togglePause(ctrl *geiger.Controller, logger *slog.Logger) {
	var err error
	switch ctrl.State() {
	case geiger.Running:
		err = ctrl.Pause()
	case geiger.Paused:
		err = ctrl.Resume()
	}
	if err != nil {
		logger.Warn("pause toggle ignored", "err", err)
	}
}

// formatClock renders d as HH:MM:SS.
func formatClock(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
