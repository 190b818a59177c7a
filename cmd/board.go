package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/biofeedback/core/app"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Check that the EEG board driver loads and report the sampling rate",
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().Bool("probe", false, "prepare and release a session to check the serial port")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, _ []string) error {
	a := app.New(rt.dirs, rt.logger.Logger)
	defer a.Close()

	probe, _ := cmd.Flags().GetBool("probe")

	open := a.OpenBoard
	if probe {
		open = a.ProbeBoard
	}
	b, err := open(rt.config.Get())
	if err != nil {
		return fmt.Errorf("board unavailable: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "board id       %d\n", b.ID())
	fmt.Fprintf(out, "sampling rate  %d Hz\n", b.SamplingRate())
	fmt.Fprintf(out, "channels       %v\n", b.Channels())
	fmt.Fprintf(out, "serial port    %s\n", b.Params().SerialPort)
	if probe {
		fmt.Fprintln(out, "session        ok")
	}
	return nil
}
