package gateway

import (
	"context"
	"fmt"

	"github.com/mattjoyce/vessel/internal/protocol"
	"github.com/mattjoyce/vessel/internal/service"
)

// Command names served by the host.
const (
	CmdPing     = "ping"
	CmdStats    = "stats"
	CmdReset    = "reset"
	CmdContext  = "context"
	CmdDiscover = "discover"
	CmdTargets  = "targets"
	CmdProcess  = "process"
	CmdRepair   = "repair"
	CmdEmit     = "emit"
	CmdUpdate   = "update"
	CmdTest     = "test"
	CmdAttach   = "attach"
	CmdDetach   = "detach"
	CmdPopup    = "popup"
)

// ServiceRegistry binds every host command to svc and c.
func ServiceRegistry(svc service.Service, c Container) *Registry {
	if c == nil {
		c = NopContainer{}
	}
	r := NewRegistry()

	r.MustRegister(CmdAttach, ClassLocal, func(ctx context.Context, call protocol.Call) (any, error) {
		return nil, c.Attach()
	})
	r.MustRegister(CmdDetach, ClassLocal, func(ctx context.Context, call protocol.Call) (any, error) {
		return nil, c.Detach()
	})
	r.MustRegister(CmdPopup, ClassLocal, func(ctx context.Context, call protocol.Call) (any, error) {
		var alert string
		if err := decode(call, &alert); err != nil {
			return nil, err
		}
		return nil, c.Popup(alert)
	})

	r.MustRegister(CmdEmit, ClassNonBlocking, func(ctx context.Context, call protocol.Call) (any, error) {
		var (
			signal string
			kwargs map[string]any
		)
		if err := decode(call, &signal, &kwargs); err != nil {
			return nil, err
		}
		if kwargs == nil {
			kwargs = map[string]any{}
		}
		return nil, svc.Emit(ctx, signal, kwargs)
	})

	r.MustRegister(CmdPing, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return svc.Ping(ctx)
	})
	r.MustRegister(CmdStats, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return svc.Stats(ctx)
	})
	r.MustRegister(CmdReset, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return nil, svc.Reset(ctx)
	})
	r.MustRegister(CmdContext, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return svc.Context(ctx)
	})
	r.MustRegister(CmdDiscover, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return svc.Discover(ctx)
	})
	r.MustRegister(CmdTargets, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		return svc.Targets(ctx)
	})
	r.MustRegister(CmdProcess, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		pluginID, instanceID, err := decodePair(call)
		if err != nil {
			return nil, err
		}
		return svc.Process(ctx, pluginID, instanceID)
	})
	r.MustRegister(CmdRepair, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		pluginID, instanceID, err := decodePair(call)
		if err != nil {
			return nil, err
		}
		return svc.Repair(ctx, pluginID, instanceID)
	})
	r.MustRegister(CmdUpdate, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		var (
			key, name string
			value     any
		)
		if err := decode(call, &key, &value, &name); err != nil {
			return nil, err
		}
		if key == "" || name == "" {
			return nil, fmt.Errorf("%w: update needs key and name", ErrInvalidArgs)
		}
		return nil, svc.Update(ctx, key, value, name)
	})
	r.MustRegister(CmdTest, ClassWrapped, func(ctx context.Context, call protocol.Call) (any, error) {
		var vars protocol.TestVars
		if err := decode(call, &vars); err != nil {
			return nil, err
		}
		msg, err := svc.Test(ctx, vars)
		if err != nil || msg == "" {
			return nil, err
		}
		return msg, nil
	})

	return r
}

func decode(call protocol.Call, dst ...any) error {
	if err := call.DecodeArgs(dst...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// decodePair reads the (plugin, instance|null) arguments of process and repair.
func decodePair(call protocol.Call) (string, string, error) {
	var (
		p    protocol.Plugin
		inst *protocol.Instance
	)
	if err := decode(call, &p, &inst); err != nil {
		return "", "", err
	}
	if p.ID == "" {
		return "", "", fmt.Errorf("%w: %s needs a plugin id", ErrInvalidArgs, call.Name)
	}
	if inst == nil {
		return p.ID, "", nil
	}
	return p.ID, inst.ID, nil
}
