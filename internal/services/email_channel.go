package services

import (
	"context"
	"fmt"
	"log/slog"

	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used for delivery
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailChannel sends messages through AWS SES
type EmailChannel struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

func NewEmailChannel(client SESAPI, fromAddress string, logger *slog.Logger) *EmailChannel {
	return &EmailChannel{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (c *EmailChannel) Send(ctx context.Context, msg DeliveryMessage) error {
	body := &types.Body{
		Text: &types.Content{Data: aws.String(msg.Text)},
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML)}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(c.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Destination},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body:    body,
		},
	}

	result, err := c.client.SendEmail(ctx, input)
	if err != nil {
		c.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(msg.Destination)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(msg.Destination)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
