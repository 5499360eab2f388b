package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client used for delivery
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSChannel sends transactional text messages through AWS SNS
type SMSChannel struct {
	client   SNSAPI
	senderID string
	logger   *slog.Logger
}

func NewSMSChannel(client SNSAPI, senderID string, logger *slog.Logger) *SMSChannel {
	return &SMSChannel{
		client:   client,
		senderID: senderID,
		logger:   logger,
	}
}

func (c *SMSChannel) Send(ctx context.Context, msg DeliveryMessage) error {
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if c.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(c.senderID),
		}
	}

	result, err := c.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.Destination),
		Message:           aws.String(msg.Text),
		MessageAttributes: attrs,
	})
	if err != nil {
		c.logger.Error("failed to send sms via SNS", slog.Any("error", err))
		return fmt.Errorf("failed to send sms: %w", err)
	}

	c.logger.Info("sms sent", slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
