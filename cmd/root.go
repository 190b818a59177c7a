// Package cmd provides the biofeedback CLI.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/adalundhe/biofeedback/core/config"
	"github.com/adalundhe/biofeedback/core/logging"
	"github.com/adalundhe/biofeedback/core/storage"
)

var (
	configPath string
	logLevel   string
)

// runtime is the state every subcommand shares once the root pre-run is done.
type runtime struct {
	dirs   *storage.Dirs
	config *config.Manager
	logger *logging.Logger
}

var rt runtime

var rootCmd = &cobra.Command{
	Use:   "biofeedback",
	Short: "EEG and skin-conductance biofeedback sessions",
	Long: `biofeedback pairs EEG theta values received over UDP with skin
conductance readings from an Arduino and cues the subject with a vibration
motor when both indicate arousal.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if rt.config != nil {
			rt.config.Close()
		}
		if rt.logger != nil {
			rt.logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file applied over the user and project config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return fmt.Errorf("resolve directories: %w", err)
	}

	mgr := config.NewManager(dirs)
	mgr.SetExplicitPath(configPath)
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg := mgr.Get()

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logCfg := logging.Config{
		Level:   level,
		Format:  cfg.Log.Format,
		Service: "biofeedback",
		Output:  cmd.ErrOrStderr(),
	}
	if cfg.Log.File {
		logCfg.LogDir = dirs.LogDir()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Logger)
	mgr.SetLogger(logger.Logger)

	rt = runtime{dirs: dirs, config: mgr, logger: logger}
	return nil
}
