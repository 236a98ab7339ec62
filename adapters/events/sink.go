package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
)

// LogSink drains a topic and logs what it receives. It is used when no
// broker is configured so published events remain visible. Verification
// codes are never logged.
func LogSink(ctx context.Context, sub message.Subscriber, topic string, logger logrus.FieldLogger) error {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			fields := logrus.Fields{"topic": topic, "message_uuid": msg.UUID}
			for k, v := range msg.Metadata {
				fields[k] = v
			}

			switch topic {
			case TopicOTP:
				var delivery core.CodeDelivery
				if err := json.Unmarshal(msg.Payload, &delivery); err == nil {
					fields["account_id"] = delivery.AccountID
					fields["expires_at"] = delivery.ExpiresAt
				}
			default:
				var event core.SecurityEvent
				if err := json.Unmarshal(msg.Payload, &event); err == nil {
					fields["account_id"] = event.AccountID
					fields["method"] = event.Method
				}
			}

			logger.WithFields(fields).Info("event published")
			msg.Ack()
		}
	}()

	return nil
}
