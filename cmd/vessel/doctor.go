package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/doctor"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/plugin"
)

// errValidationFailed carries no text; the report already said why.
type errValidationFailed struct{ strict bool }

func (e errValidationFailed) Error() string {
	if e.strict {
		return "configuration has warnings"
	}
	return "configuration invalid"
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate configuration and discovered plugins",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().String("format", "human", "Output format: human or json")
	doctorCmd.Flags().Bool("strict", false, "Treat warnings as failures")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	if format != "human" && format != "json" {
		return fmt.Errorf("--format must be human or json (got %q)", format)
	}

	logger := log.WithComponent("doctor")
	registry, err := plugin.DiscoverMany(cfg.Plugins.Roots, func(level, msg string, args ...any) {
		logger.Log(cmd.Context(), log.ParseLevel(level), msg, args...)
	})
	if err != nil {
		// Missing roots are reported as issues below.
		logger.Debug("plugin discovery failed", slog.String("error", err.Error()))
		registry = nil
	}

	result := doctor.New(cfg, registry).Validate()
	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := doctor.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
	} else {
		fmt.Fprint(out, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return errValidationFailed{}
	}
	if strict && len(result.Warnings) > 0 {
		return errValidationFailed{strict: true}
	}
	return nil
}
