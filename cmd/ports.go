package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/biofeedback/core/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and the one the session would use",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, _ []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDESCRIPTION\tVID:PID")
	for _, p := range ports {
		id := ""
		if p.IsUSB {
			id = p.VID + ":" + p.PID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Description, id)
	}
	w.Flush()

	cfg := rt.config.Get()
	if cfg.Serial.Port != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nconfigured port: %s\n", cfg.Serial.Port)
		return nil
	}
	found, err := serial.FindPort(cfg.Serial.Match)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nno port matches %q\n", cfg.Serial.Match)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nselected port: %s\n", found)
	return nil
}
