// Package broadcast defines the port for pushing live events to connected
// clients (dashboards watching the decision feed).
package broadcast

import "context"

// Broadcaster pushes typed events to all connected clients. Delivery is
// best-effort; slow or dead clients are dropped, never waited on.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all broadcasts.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
