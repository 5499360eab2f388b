package services

import (
	"context"
	"fmt"

	"github.com/BradenHooton/warden/internal/models"
)

// DeliveryMessage is one out-of-band message: an OTP code or a confirmation link
type DeliveryMessage struct {
	Method      models.OTPMethod
	Destination string
	Subject     string // email only
	Text        string
	HTML        string // email only, optional
}

// DeliveryChannel sends a message to a destination
type DeliveryChannel interface {
	Send(ctx context.Context, msg DeliveryMessage) error
}

// DeliveryRouter dispatches messages to the channel registered for their method
type DeliveryRouter struct {
	channels map[models.OTPMethod]DeliveryChannel
}

func NewDeliveryRouter(email, sms DeliveryChannel) *DeliveryRouter {
	channels := make(map[models.OTPMethod]DeliveryChannel, 2)
	if email != nil {
		channels[models.OTPMethodEmail] = email
	}
	if sms != nil {
		channels[models.OTPMethodSMS] = sms
	}
	return &DeliveryRouter{channels: channels}
}

func (r *DeliveryRouter) Send(ctx context.Context, msg DeliveryMessage) error {
	channel, ok := r.channels[msg.Method]
	if !ok {
		return fmt.Errorf("no delivery channel for %q: %w", msg.Method, models.ErrUnsupportedOTPMethod)
	}
	return channel.Send(ctx, msg)
}
