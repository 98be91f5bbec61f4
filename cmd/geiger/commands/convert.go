package commands

import (
	"bufio"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	geiger "github.com/luhtfiimanal/go-geiger"
)

// convert: turn CPM values from args, or stdin lines, into dose rates.
func convertCmd() *cobra.Command {
	var k, hpy float64
	cmd := &cobra.Command{
		Use:   "convert [cpm...]",
		Short: "Convert CPM values to µSv/hr and µSv/yr",
		RunE: func(cmd *cobra.Command, args []string) error {
			cal := cfg.Calibration.Calibration()
			if cmd.Flags().Changed("cpm-per-usv") {
				cal.CPMPerUSvPerHour = k
			}
			if cmd.Flags().Changed("hours-per-year") {
				cal.HoursPerYear = hpy
			}
			if err := cal.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				for _, a := range args {
					if err := convertOne(out, []byte(a), cal); err != nil {
						return err
					}
				}
				return nil
			}
			return convertStream(cmd.InOrStdin(), out, cal)
		},
	}
	cmd.Flags().Float64VarP(&k, "cpm-per-usv", "k", geiger.DefaultCPMPerUSvPerHour, "calibration: CPM per µSv/hr")
	cmd.Flags().Float64Var(&hpy, "hours-per-year", geiger.DefaultHoursPerYear, "hours per year for yearly projection")
	return cmd
}

func convertOne(out io.Writer, token []byte, cal geiger.Calibration) error {
	cpm, err := geiger.ParseCPM(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, geiger.Compute(cpm, cal))
	return err
}

// convertStream converts each non-blank stdin line, skipping malformed ones
// the same way an acquisition run does by default.
func convertStream(in io.Reader, out io.Writer, cal geiger.Calibration) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := convertOne(out, line, cal); err != nil {
			fmt.Fprintf(out, "skipped: %v\n", err)
		}
	}
	return sc.Err()
}
