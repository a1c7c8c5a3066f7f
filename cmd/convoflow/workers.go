package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/ports"
)

// registerDemoWorkers installs simulated workers for the built-in
// reservation flow. Availability succeeds most of the time so the demo
// occasionally exercises the alternative-slot path.
func registerDemoWorkers(registry *tools.Registry) {
	checkAvailability := ports.ToolWorkerFunc(func(ctx context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		if err := simulateLatency(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"ok": rand.Float64() < 0.8}, nil
	})

	createReservation := ports.ToolWorkerFunc(func(ctx context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		if err := simulateLatency(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"reservationId": "R-" + uuid.NewString()[:8]}, nil
	})

	registry.Register("CheckAvailability", tools.WithRetry(checkAvailability, 3, time.Second))
	registry.Register("CreateReservation", tools.WithRetry(createReservation, 3, time.Second))
}

func simulateLatency(ctx context.Context) error {
	delay := time.Duration(300+rand.Intn(500)) * time.Millisecond
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
