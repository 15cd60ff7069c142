// Package notify declares the notification collaborator. Delivery is an
// external concern; the pipeline only ever calls it best-effort.
package notify

import (
	"context"
	"log/slog"
)

// Payload is one owner-facing notification.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result reports delivery counts.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Notifier delivers a payload to an owner. Failures are logged by the
// caller, never fatal.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, payload Payload) (Result, error)
}

// LogNotifier is the default implementation: it records the payload in
// the structured log. The real push collaborator replaces it in
// deployments that have one.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ownerID string, payload Payload) (Result, error) {
	slog.Info("Notification.", "ownerId", ownerID, "title", payload.Title, "body", payload.Body)
	return Result{Sent: 1}, nil
}
