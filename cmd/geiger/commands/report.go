package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	geiger "github.com/luhtfiimanal/go-geiger"
)

// printSummary writes the post-capture report.
func printSummary(out io.Writer, s geiger.Summary, cal geiger.Calibration, withSamples bool) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  samples\t%d\n", s.Count)
	fmt.Fprintf(tw, "  skipped\t%d\n", s.Skipped)
	fmt.Fprintf(tw, "  duration\t%s\n", formatClock(s.Duration))
	if s.Count > 0 {
		m := s.Mean(cal)
		fmt.Fprintf(tw, "  mean\t%.2f CPM ± %.2f\n", m.CPM, m.CPMError)
		fmt.Fprintf(tw, "  dose rate\t%.4f µSv/hr ± %.4f\n", m.USvPerHour, m.USvPerHourError)
		fmt.Fprintf(tw, "  projected\t%.4f µSv/yr ± %.4f\n", m.USvPerYear, m.USvPerYearError)
	}
	tw.Flush()

	if !withSamples || s.Count == 0 {
		return
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "elapsed_s\tcpm\terror\t")
	for _, p := range s.Samples {
		fmt.Fprintf(tw, "%.3f\t%.0f\t%.2f\t\n", p.Elapsed.Seconds(), p.CPM, p.CPMError)
	}
	tw.Flush()
}
