// Package commands defines the geiger CLI.
//
// Commands
//
//   - run        Acquire readings from the detector until interrupted
//   - convert    Convert CPM values to dose rates without a detector
//
// # Signals
//
// While run is active, SIGINT or SIGTERM stops the acquisition and prints the
// summary; SIGUSR1 toggles pause and resume (Unix only).
//
// # Configuration
//
// The root command loads --config (YAML, see config.example.yaml) before any
// subcommand runs. Flags given on the command line override file values.
// When run is started with --config the file is watched and a changed
// calibration is applied to the running acquisition.
package commands
