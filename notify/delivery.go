package notify

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
)

// Deliverer hands a notification to whatever transport sends it.
// Returning an error leaves the notification pending for the next run.
type Deliverer interface {
	MarkDelivered(ctx context.Context, id generic.NotificationID) error
}

// LogDeliverer is the delivery stub: it logs and reports success.
// Real email/SMS transport lives outside this engine.
type LogDeliverer struct {
	Log logrus.FieldLogger
}

func (d LogDeliverer) MarkDelivered(ctx context.Context, id generic.NotificationID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Log.WithField("notification_id", id).Debug("notification delivered")
	return nil
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, id generic.NotificationID) error

func (f DelivererFunc) MarkDelivered(ctx context.Context, id generic.NotificationID) error {
	return f(ctx, id)
}
