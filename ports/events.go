package ports

import (
	"context"

	"github.com/layer-3/warden/core"
)

// Notifier hands security events to the notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, event core.SecurityEvent) error
}

// OTPSender requests delivery of a verification code.
type OTPSender interface {
	SendCode(ctx context.Context, delivery core.CodeDelivery) error
}
