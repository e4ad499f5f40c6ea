package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/engine"
	"github.com/mattjoyce/vessel/internal/protocol"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovered plugins in processing order",
	RunE:  runPlugins,
}

func init() {
	pluginsCmd.Flags().String("host", "", "Only list plugins supporting this host")
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	hostName, _ := cmd.Flags().GetString("host")

	eng := engine.New(engine.Options{
		Roots:   cfg.Plugins.Roots,
		Timeout: cfg.Plugins.Timeout,
		Host:    hostName,
		Targets: cfg.Plugins.Targets,
	})
	found, err := eng.Discover(cmd.Context())
	if err != nil {
		return err
	}
	dtos := make([]protocol.Plugin, 0, len(found))
	for _, p := range found {
		dtos = append(dtos, p.DTO())
	}
	printPlugins(cmd.OutOrStdout(), dtos)
	return nil
}

func printPlugins(w io.Writer, plugins []protocol.Plugin) {
	fmt.Fprintln(w, styles.Title.Render(fmt.Sprintf("%d plugins", len(plugins))))
	band := ""
	for _, p := range plugins {
		if b := protocol.BandOf(p.Order); b != band {
			band = b
			fmt.Fprintln(w, styles.Header.Render(band))
		}
		var flags []string
		if p.ContextEnabled {
			flags = append(flags, "context")
		}
		if p.InstanceEnabled {
			flags = append(flags, "instance")
		}
		if p.HasRepair {
			flags = append(flags, "repair")
		}
		if p.Optional {
			flags = append(flags, "optional")
		}
		fmt.Fprintf(w, "  %s %-28s %s %s\n",
			styles.Band.Render(fmt.Sprintf("%5.2f", p.Order)),
			p.Name,
			strings.Join(p.Families, ","),
			styles.Dim.Render(strings.Join(flags, " ")),
		)
	}
}
