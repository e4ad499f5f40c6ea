package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/host"
	"github.com/mattjoyce/vessel/internal/log"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Install a session and serve the presentation process",
	RunE:  runHost,
}

func init() {
	hostCmd.Flags().Bool("publish", false, "Publish as soon as the presentation process is ready")
	hostCmd.Flags().Bool("validate", false, "Validate as soon as the presentation process is ready")
	hostCmd.Flags().Bool("no-ui", false, "Serve the session without launching the presentation process")
	hostCmd.Flags().String("name", "shell", "Name of the embedding host application")
	hostCmd.MarkFlagsMutuallyExclusive("publish", "validate")
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	publish, _ := cmd.Flags().GetBool("publish")
	validate, _ := cmd.Flags().GetBool("validate")
	noUI, _ := cmd.Flags().GetBool("no-ui")
	name, _ := cmd.Flags().GetString("name")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := host.Install(ctx, host.Options{
		Config:      cfg,
		ConfigPath:  path,
		Host:        name,
		Passthrough: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	logger := log.WithSession(session.ID())
	defer func() {
		if err := session.Uninstall(context.Background()); err != nil {
			logger.Error("uninstall failed", "error", err)
		}
	}()

	if noUI {
		logger.Info("serving without presentation process", "port", session.Port())
		<-ctx.Done()
		return nil
	}

	if err := session.Show(ctx, map[string]any{"title": cfg.Service.Name}); err != nil {
		return fmt.Errorf("show: %w", err)
	}
	if publish || validate {
		parent, err := session.Parent()
		if err != nil {
			return err
		}
		if publish {
			err = parent.Publish()
		} else {
			err = parent.Validate()
		}
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted, shutting down")
	case <-session.Gone():
		logger.Info("presentation process gone")
	}

	summary, err := session.Journal().Summarize(context.Background(), session.ID())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s passed, %s failed\n",
		session.ID(), styles.Passed.Render(fmt.Sprint(summary.Passed)), styles.Failed.Render(fmt.Sprint(summary.Failed)))
	return nil
}
