package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/luhtfiimanal/go-geiger/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
)

// Execute runs the CLI with os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "geiger",
		Short:        "Read a Geiger-Müller detector and report dose rates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := config.Read(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			} else {
				cfg = config.Default()
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "log format: text|json")

	root.AddCommand(runCmd(), convertCmd())
	return root
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	switch lc.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", lc.Format)
	}
}
