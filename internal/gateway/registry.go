package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/vessel/internal/protocol"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidArgs    = errors.New("invalid arguments")
)

// CallClass decides how a request is executed.
type CallClass int

const (
	// ClassLocal commands are handled by the gateway without the service.
	ClassLocal CallClass = iota + 1
	// ClassNonBlocking commands are acknowledged before they run.
	ClassNonBlocking
	// ClassWrapped commands run through the Executor.
	ClassWrapped
)

func (c CallClass) String() string {
	switch c {
	case ClassLocal:
		return "local"
	case ClassNonBlocking:
		return "non-blocking"
	case ClassWrapped:
		return "wrapped"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Handler serves one command. The returned value becomes the response payload.
type Handler func(ctx context.Context, call protocol.Call) (any, error)

type entry struct {
	class   CallClass
	handler Handler
}

// Registry maps command names to handlers.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds name to h. Names are unique.
func (r *Registry) Register(name string, class CallClass, h Handler) error {
	if name == "" {
		return fmt.Errorf("register: command name is empty")
	}
	if h == nil {
		return fmt.Errorf("register %s: handler is nil", name)
	}
	if class < ClassLocal || class > ClassWrapped {
		return fmt.Errorf("register %s: invalid call class %d", name, int(class))
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register %s: already registered", name)
	}
	r.entries[name] = entry{class: class, handler: h}
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(name string, class CallClass, h Handler) {
	if err := r.Register(name, class, h); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(name string) (entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
