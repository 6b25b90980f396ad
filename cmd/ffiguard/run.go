package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/risor-io/ffiguard/report"
	"github.com/risor-io/ffiguard/sim"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	selected := scenarios
	if len(args) > 0 {
		selected = nil
		for _, name := range args {
			s, ok := findScenario(name)
			if !ok {
				return fmt.Errorf("unknown scenario: %s", name)
			}
			selected = append(selected, s)
		}
	}

	formatter := report.NewFormatter(useColor(cfg.Color), viper.GetBool("verbose"))
	var failed int
	for i, s := range selected {
		if i > 0 {
			fmt.Fprintln(os.Stdout)
		}
		out, err := execute(s, cfg.BackendOptions(), cfg.GuardOptions())
		if err != nil {
			return err
		}
		if !printOutcome(os.Stdout, formatter, s, out) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d scenario(s) left the backend in a bad state", failed)
	}
	return nil
}

// printOutcome writes what the client saw. It returns false if the backend
// leaked bookkeeping.
func printOutcome(w io.Writer, f *report.Formatter, s scenario, out *outcome) bool {
	fmt.Fprintf(w, "%s %s\n", bold("=> "+s.name+":"), s.statement())
	for _, msg := range out.messages {
		if msg.Level.IsError() {
			continue
		}
		fmt.Fprint(w, f.Format(messageReport(msg)))
	}

	var pgErr *pgconn.PgError
	var terminated *sim.TerminatedError
	switch {
	case out.err == nil:
		fmt.Fprintln(w, green(formatDatum(out.value)))
	case errors.As(out.err, &pgErr):
		fmt.Fprint(w, f.Format(report.FromPgError(pgErr)))
	case errors.As(out.err, &terminated):
		fmt.Fprint(w, f.Format(exitReport(terminated)))
		fmt.Fprintln(w, yellow("backend terminated"))
	default:
		fmt.Fprintln(w, red(out.err.Error()))
	}

	if out.leaks != nil {
		fmt.Fprintln(w, red(out.leaks.Error()))
		return false
	}
	return true
}

func messageReport(msg sim.Message) *report.ReportWithLevel {
	return report.WithLocation(msg.Code, msg.Text, report.UnknownLocation()).
		SetDetail(msg.Detail).
		SetHint(msg.Hint).
		WithLevel(msg.Level)
}

func exitReport(err *sim.TerminatedError) *report.ReportWithLevel {
	return report.WithLocation(err.Exit.Code, err.Exit.Message, report.UnknownLocation()).
		WithLevel(err.Exit.Level)
}

func formatDatum(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func listHandler(cmd *cobra.Command, args []string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range scenarios {
		fmt.Fprintf(w, "%s\t%s\n", s.name, s.description)
	}
	w.Flush()
}
