package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const (
	TopicNotifications = "warden.notifications"
	TopicOTP           = "warden.otp"
)

// WatermillNotifier implements the Notifier interface using Watermill
type WatermillNotifier struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillNotifier creates a notifier publishing security events
func NewWatermillNotifier(publisher message.Publisher) ports.Notifier {
	return &WatermillNotifier{
		publisher: publisher,
		topic:     TopicNotifications,
	}
}

// Notify publishes a security event
func (p *WatermillNotifier) Notify(ctx context.Context, event core.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("account_id", event.AccountID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// WatermillOTPSender hands verification codes to the delivery service
type WatermillOTPSender struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillOTPSender creates an OTP sender
func NewWatermillOTPSender(publisher message.Publisher) ports.OTPSender {
	return &WatermillOTPSender{
		publisher: publisher,
		topic:     TopicOTP,
	}
}

// SendCode publishes a delivery request. Success means the request was
// accepted by the broker, not that the code reached the user.
func (p *WatermillOTPSender) SendCode(ctx context.Context, delivery core.CodeDelivery) error {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	msg := message.NewMessage(delivery.ChallengeID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("channel", string(delivery.Channel))

	done := make(chan error, 1)
	go func() { done <- p.publisher.Publish(p.topic, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish delivery: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish delivery: %w", ctx.Err())
	}
}
