// Package config loads and watches the geiger configuration file.
//
// Top-level types:
//   - Config{Device, Calibration, Acquisition, Log, Metrics}
//   - DeviceConfig: address, baud_rate, read_timeout, delimiter, driver
//     (termios|portable); Serial() builds a serial.Config
//   - CalibrationConfig: cpm_per_usv_per_hour, hours_per_year
//   - AcquisitionConfig: on_parse_error (skip|abort), subscriber_buffer
//   - LogConfig: level, format (text|json)
//   - MetricsConfig: textfile_path
//
// Load(path) reads the YAML file, applies defaults (9600 baud, 1s read
// timeout, K=151, skip malformed lines), then validates.
//
// WatchCalibration(ctx, path, logger, onChange) uses fsnotify to follow the
// file and calls onChange with each new valid calibration. Other sections are
// not reloaded, so the file need not validate as a whole.
package config
