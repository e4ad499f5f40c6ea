package service

import (
	"context"

	"github.com/mattjoyce/vessel/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/mattjoyce/vessel/internal/service Service

// Service is everything the presentation process may ask of the host.
type Service interface {
	Ping(ctx context.Context) (Pong, error)
	Stats(ctx context.Context) (Stats, error)
	Reset(ctx context.Context) error
	Context(ctx context.Context) (protocol.Context, error)
	Discover(ctx context.Context) ([]protocol.Plugin, error)
	Targets(ctx context.Context) ([]string, error)
	// Process runs a plugin against one instance, or against the context
	// when instanceID is empty.
	Process(ctx context.Context, pluginID, instanceID string) (protocol.Result, error)
	Repair(ctx context.Context, pluginID, instanceID string) (protocol.Result, error)
	// Emit triggers host callbacks registered for signal.
	Emit(ctx context.Context, signal string, kwargs map[string]any) error
	// Update writes one data key on the context (name "Context") or on the
	// named instance.
	Update(ctx context.Context, key string, value any, name string) error
	// Test returns a non-empty reason when the next plugin must not run.
	Test(ctx context.Context, vars protocol.TestVars) (string, error)
}

// Pong is the reply to ping.
type Pong struct {
	Message string `json:"message"`
}

// Stats reports request counters.
type Stats struct {
	TotalRequestCount int64 `json:"totalRequestCount"`
}
