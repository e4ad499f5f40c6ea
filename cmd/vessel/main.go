package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/config"
	"github.com/mattjoyce/vessel/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "vessel",
	Short: "vessel runs a publishing pipeline between a host process and a detached presentation process",
	Long: `vessel drives ordered collect, validate, extract and integrate plugins over a tree of
instances. The host side serves the plugin engine; the presentation side ("vessel ui")
runs the workflow and talks to the host over its stdin and stdout.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file or directory (defaults when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Override service.log_level")
}

// loadConfig reads --config and sets up logging on stderr. stdout is
// reserved for the protocol channel in the presentation process.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Service.LogLevel = lvl
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	return cfg, path, nil
}
