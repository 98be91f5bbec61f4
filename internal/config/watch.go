package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	geiger "github.com/luhtfiimanal/go-geiger"
)

// WatchCalibration follows the calibration section of the config file at path
// and calls onChange whenever it changes to a new valid value. It runs until
// ctx is cancelled.
//
// Only the calibration is checked on reload. The rest of the file may be
// incomplete because the running command can supply fields such as the
// device address from flags, and those fields are not reloaded anyway.
// Unreadable files and invalid factors are logged and skipped, leaving the
// current calibration in effect.
func WatchCalibration(ctx context.Context, path string, logger *slog.Logger, onChange func(geiger.Calibration)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	// Editors that save by rename replace the inode, so follow the
	// directory and match on the file name.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	var current geiger.Calibration
	if cal, err := readCalibration(target); err == nil {
		current = cal
	}
	logger.Info("config: watching calibration", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cal, err := readCalibration(target)
			if err != nil {
				logger.Warn("config: calibration reload skipped", "path", path, "err", err)
				continue
			}
			if cal == current {
				continue
			}
			current = cal
			logger.Info("config: calibration reloaded", "path", path,
				"cpm_per_usv_per_hour", cal.CPMPerUSvPerHour,
				"hours_per_year", cal.HoursPerYear)
			onChange(cal)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "err", err)
		}
	}
}

func readCalibration(path string) (geiger.Calibration, error) {
	cfg, err := Read(path)
	if err != nil {
		return geiger.Calibration{}, err
	}
	cal := cfg.Calibration.Calibration()
	if err := cal.Validate(); err != nil {
		return geiger.Calibration{}, fmt.Errorf("config: calibration: %w", err)
	}
	return cal, nil
}
