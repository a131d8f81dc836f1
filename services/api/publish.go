package api

import (
	"context"
	"time"
)

const (
	enrolledTopic   = "xnoded.deployments.enrolled"
	heartbeatTopic  = "xnoded.deployments.heartbeat"
	statusTopic     = "xnoded.deployments.status"
	generationTopic = "xnoded.deployments.generation"
)

// publishJSON emits an event to the bus, fire-and-forget. Handlers never
// fail because the event feed is down.
func (a *API) publishJSON(subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = a.store.Bus.Publish(ctx, subject, payload)
}
