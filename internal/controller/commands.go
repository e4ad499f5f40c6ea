package controller

import (
	"fmt"

	"github.com/mattjoyce/vessel/internal/client"
	"github.com/mattjoyce/vessel/internal/gateway"
	"github.com/mattjoyce/vessel/internal/protocol"
)

// Bind serves the host's parent commands from r.
func (c *Controller) Bind(r *client.Router) error {
	handlers := map[string]client.CommandHandler{
		gateway.ParentShow: func(call protocol.Call) error {
			var settings map[string]any
			if len(call.Args) > 0 {
				if err := call.DecodeArgs(&settings); err != nil {
					return err
				}
			}
			c.logger.Info("show", "settings", settings)
			if err := c.Show(); err != nil {
				return err
			}
			return c.Reset()
		},
		gateway.ParentHide: func(protocol.Call) error { return c.Hide() },
		gateway.ParentQuit: func(protocol.Call) error {
			if c.opts.OnQuit != nil {
				c.opts.OnQuit()
			}
			return nil
		},
		gateway.ParentResize: func(call protocol.Call) error {
			var w, h int
			if err := call.DecodeArgs(&w, &h); err != nil {
				return err
			}
			c.logger.Debug("resize", "width", w, "height", h)
			return nil
		},
		gateway.ParentPopup: func(call protocol.Call) error {
			var alert string
			if err := call.DecodeArgs(&alert); err != nil {
				return err
			}
			return c.invoke(func() { c.message("info", alert) })
		},
		gateway.ParentPublish: func(protocol.Call) error {
			if queued, err := c.afterReset(runPublish); queued || err != nil {
				return err
			}
			return c.Publish()
		},
		gateway.ParentValidate: func(protocol.Call) error {
			if queued, err := c.afterReset(runValidate); queued || err != nil {
				return err
			}
			return c.Validate()
		},
	}
	for _, name := range []string{gateway.ParentRise, gateway.ParentInFocus, gateway.ParentOutFocus, gateway.ParentHostAttach, gateway.ParentHostDetach} {
		name := name
		handlers[name] = func(protocol.Call) error {
			c.logger.Debug("window command", "command", name)
			return nil
		}
	}
	for name, h := range handlers {
		if err := r.Handle(name, h); err != nil {
			return fmt.Errorf("bind controller: %w", err)
		}
	}
	return nil
}
