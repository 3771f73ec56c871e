package main

import (
	"log/slog"
	"os"

	"meshnode/cmd/meshnoded/ui"
	"meshnode/config"
	"meshnode/internal/buildinfo"
	"meshnode/internal/logging"

	"github.com/spf13/cobra"
)

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
	debug      bool
	noColor    bool
}

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var g globals

	cmd := &cobra.Command{
		Use:           "meshnoded",
		Short:         "Mesh node daemon",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := g.logLevel
			if g.debug {
				level = logging.LevelDebug
			}
			ui.ConfigureColor(g.noColor)
			return logging.Configure(level, g.logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", config.Path(), "Node config file")
	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", config.DataDir(), "Database and runtime directory")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", logging.LevelInfo, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", logging.FormatText, "Log format (text, json)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(runCmd(&g))
	cmd.AddCommand(renderCmd(&g))
	cmd.AddCommand(interfacesCmd(&g))
	cmd.AddCommand(statusCmd(&g))
	return cmd
}
