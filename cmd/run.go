package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/biofeedback/core/app"
	"github.com/adalundhe/biofeedback/core/config"
	"github.com/adalundhe/biofeedback/core/session"
	"github.com/adalundhe/biofeedback/core/signal"
)

var (
	runRecord   bool
	runDuration time.Duration
	runNoWatch  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a biofeedback session",
	Long: `Run a biofeedback session for the configured duration.

With --record the session only collects data: no motor commands are sent and
the mean and standard deviation of the theta window are stored as the
calibration baseline when the session ends.

Examples:
  biofeedback run
  biofeedback run --record --duration 2m
  biofeedback run --config lab.yaml`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runRecord, "record", false, "record a calibration baseline instead of giving feedback")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "session length (overrides session.duration)")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "do not reload thresholds when config files change")
}

func runSession(cmd *cobra.Command, _ []string) error {
	if runRecord || runDuration > 0 {
		rt.config.AddOverride(func(c *config.Config) {
			if runRecord {
				c.Session.Recording = true
			}
			if runDuration > 0 {
				c.Session.Duration = runDuration
			}
		})
		if err := rt.config.Reload(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	handler := signal.NewOSSignalHandler(cancel, nil, rt.logger.Logger)
	handler.Start()
	defer handler.Stop()

	if !runNoWatch {
		if err := rt.config.Watch(ctx); err != nil {
			rt.logger.Warn("config watch disabled", "error", err)
		}
	}

	a := app.New(rt.dirs, rt.logger.Logger)
	defer a.Close()

	summary, err := a.Run(ctx, rt.config)
	printSummary(cmd, summary)
	return err
}

func printSummary(cmd *cobra.Command, s session.Summary) {
	if s.RunID == "" {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", s.RunID)
	fmt.Fprintf(out, "  duration   %s\n", s.Ended.Sub(s.Started).Round(time.Millisecond))
	fmt.Fprintf(out, "  evaluated  %d pairs (%d pending, %d dropped)\n", s.Evaluated, s.Pending, s.Dropped)
	if s.Recording {
		if s.Baseline != nil {
			fmt.Fprintf(out, "  baseline   average=%.6f std=%.6f\n", s.Baseline.Average, s.Baseline.Std)
		} else {
			fmt.Fprintln(out, "  baseline   not recorded (no theta values)")
		}
		return
	}
	fmt.Fprintf(out, "  motor      %d starts, %d stops\n", s.Starts, s.Stops)
	fmt.Fprintf(out, "  final      %s\n", s.FinalState)
}
