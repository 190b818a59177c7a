package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/biofeedback/core/app"
	"github.com/adalundhe/biofeedback/core/calibration"
)

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Inspect the calibration baseline",
}

var calibrationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored baseline and the thresholds it yields",
	RunE:  runCalibrationShow,
}

func init() {
	rootCmd.AddCommand(calibrationCmd)
	calibrationCmd.AddCommand(calibrationShowCmd)
}

func runCalibrationShow(cmd *cobra.Command, _ []string) error {
	cfg := rt.config.Get()
	a := app.New(rt.dirs, rt.logger.Logger)
	defer a.Close()

	store, err := a.CalibrationStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	b, err := store.Load(cmd.Context())
	if errors.Is(err, calibration.ErrNoBaseline) {
		fmt.Fprintln(out, "no baseline stored; run `biofeedback run --record` first")
		return nil
	}
	if err != nil {
		return err
	}

	t, err := app.ResolveThresholds(cfg.Thresholds, &b)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "average  %.6f\n", b.Average)
	fmt.Fprintf(out, "std      %.6f\n", b.Std)
	fmt.Fprintf(out, "source   %s\n", cfg.Thresholds.Source)
	fmt.Fprintf(out, "enter    theta >= %.6f\n", t.ThetaHigh)
	fmt.Fprintf(out, "exit     theta <  %.6f\n", t.ThetaLow)
	return nil
}
