package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/vessel/internal/log"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// CommandHandler serves one parent command.
type CommandHandler func(call protocol.Call) error

// Router dispatches parent commands by name.
type Router struct {
	handlers map[string]CommandHandler
	logger   *slog.Logger
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
		logger:   log.WithComponent("router"),
	}
}

// Handle binds name to h. Names are unique.
func (r *Router) Handle(name string, h CommandHandler) error {
	if name == "" {
		return fmt.Errorf("handle: command name is empty")
	}
	if h == nil {
		return fmt.Errorf("handle %s: handler is nil", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handle %s: already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Dispatch runs the handler for call. Unknown commands are logged and
// dropped.
func (r *Router) Dispatch(call protocol.Call) {
	h, ok := r.handlers[call.Name]
	if !ok {
		r.logger.Warn("unknown parent command", "command", call.Name)
		return
	}
	if err := h(call); err != nil {
		r.logger.Warn("parent command failed", "command", call.Name, "error", err)
	}
}

// Run drains commands until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, commands <-chan protocol.Call) {
	for {
		select {
		case <-ctx.Done():
			return
		case call, ok := <-commands:
			if !ok {
				return
			}
			r.Dispatch(call)
		}
	}
}
