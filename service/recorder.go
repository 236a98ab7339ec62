package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// Recorder receives outcome counts. internal/metrics implements it.
type Recorder interface {
	AuthAttempt(method, outcome string)
	RateLimited(route string)
	RefreshReplay()
	CodeDelivery(ok bool)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) AuthAttempt(string, string) {}
func (NopRecorder) RateLimited(string)         {}
func (NopRecorder) RefreshReplay()             {}
func (NopRecorder) CodeDelivery(bool)          {}

const notifyTimeout = 3 * time.Second

// notify hands event to the notifier without letting a failure or a
// cancelled request affect the caller.
func notify(ctx context.Context, notifier ports.Notifier, logger logrus.FieldLogger, event core.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := notifier.Notify(ctx, event); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"event":      event.Type,
			"account_id": event.AccountID,
		}).Warn("failed to publish security event")
	}
}
