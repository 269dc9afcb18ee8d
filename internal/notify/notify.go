// Package notify bundles the built-in Notifier implementations. Concrete
// delivery channels (email, push, SMS) belong to the host application;
// these implementations log or hand off to the event bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// LogNotifier writes every notification to the structured log. Default
// for embedded deployments and tests.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// SendNotification implements domain.Notifier.
func (n *LogNotifier) SendNotification(ctx context.Context, notification *domain.Notification) error {
	slog.Info("notification dispatched",
		"notification_id", notification.ID,
		"user_id", notification.UserID,
		"type", notification.Type,
		"channel", notification.Channel,
		"title", notification.Title,
	)
	return nil
}

// BusNotifier publishes notifications to the event bus so an external
// delivery service can pick them up.
type BusNotifier struct {
	bus domain.EventBus
}

// NewBusNotifier creates a bus-backed notifier.
func NewBusNotifier(bus domain.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// SendNotification implements domain.Notifier.
func (n *BusNotifier) SendNotification(ctx context.Context, notification *domain.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return n.bus.Publish(ctx, domain.TopicNotification, payload)
}
