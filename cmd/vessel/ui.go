package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/client"
	"github.com/mattjoyce/vessel/internal/controller"
	"github.com/mattjoyce/vessel/internal/events"
	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/model"
	"github.com/mattjoyce/vessel/internal/protocol"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Run the presentation process (launched by vessel host)",
	RunE:  runUI,
}

func init() {
	uiCmd.Flags().Bool("aschild", false, "Talk to the parent host over stdin and stdout")
	uiCmd.Flags().Int("port", 0, "Port claimed by the parent session")
	rootCmd.AddCommand(uiCmd)
}

func runUI(cmd *cobra.Command, _ []string) error {
	asChild, _ := cmd.Flags().GetBool("aschild")
	if !asChild {
		return errors.New("ui only runs as a child of vessel host (--aschild)")
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	port, _ := cmd.Flags().GetInt("port")
	logger := log.WithComponent("ui")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cli := client.New(protocol.NewChannel(os.Stdin, os.Stdout), client.Options{
		SelfDestruct: cfg.Protocol.SelfDestruct,
	})
	cli.Start()
	defer cli.Stop()

	hub := events.NewHub(256)
	ctrl := controller.New(cli, controller.Options{
		ValidationThreshold: cfg.Pipeline.ValidationThreshold,
		Events:              hub,
		OnQuit:              cancel,
	})

	router := client.NewRouter()
	if err := ctrl.Bind(router); err != nil {
		return err
	}

	go echoTranscript(ctx, hub)
	go func() {
		if err := ctrl.Run(ctx); err != nil {
			logger.Error("controller stopped", "error", err)
		}
	}()

	logger.Info("presentation process ready", "port", port, "pid", os.Getpid())
	go router.Run(ctx, cli.Commands())

	select {
	case <-ctx.Done():
	case <-cli.Done():
		logger.Info("host closed the channel", "error", cli.Err())
		cancel()
	}
	ctrl.Wait()
	return nil
}

// echoTranscript logs the transcript as it grows; the presentation process
// has no window of its own.
func echoTranscript(ctx context.Context, hub *events.Hub) {
	ch, unsubscribe := hub.Subscribe(events.TypeTranscriptAppend, events.TypeStateEntered)
	defer unsubscribe()
	logger := log.WithComponent("transcript")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case events.TypeTranscriptAppend:
				var e model.Entry
				if err := json.Unmarshal(ev.Data, &e); err != nil {
					continue
				}
				logger.Info(e.Message, "type", e.Type, "plugin", e.Plugin, "instance", e.Instance)
			case events.TypeStateEntered:
				logger.Debug("state", "data", string(ev.Data))
			}
		}
	}
}
