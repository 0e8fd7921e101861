// Package notify delivers optional out-of-band notices to members whose
// subscription expired. Channels are config-gated; delivery failure is
// logged and never aborts the sweep item that triggered it.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"communityos-bot/internal/common/config"
	"communityos-bot/internal/common/logger"
)

// Expiry describes one expired subscription for notification purposes.
type Expiry struct {
	CommunityName string
	TierName      string
	Username      string
	Email         string
	Phone         string
}

// Notifier is implemented by expiry notification channels.
type Notifier interface {
	SubscriptionExpired(ctx context.Context, expiry Expiry) error
}

// Noop is used when all channels are disabled.
type Noop struct{}

func (Noop) SubscriptionExpired(context.Context, Expiry) error { return nil }

// Interfaces over the AWS clients for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type AWSNotifier struct {
	cfg config.NotificationConfig
	ses SESService
	sns SNSService
	log logger.Logger
}

// NewAWS builds a notifier from config. Returns Noop when every channel
// is disabled, so callers never branch on configuration.
func NewAWS(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (Notifier, error) {
	if !cfg.Email.Enabled && !cfg.SMS.Enabled {
		return Noop{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &AWSNotifier{
		cfg: cfg,
		ses: ses.NewFromConfig(awsCfg),
		sns: sns.NewFromConfig(awsCfg),
		log: log.WithFields(map[string]interface{}{"component": "notify"}),
	}, nil
}

func (n *AWSNotifier) SubscriptionExpired(ctx context.Context, expiry Expiry) error {
	subject := fmt.Sprintf("Your %s subscription has ended", expiry.CommunityName)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s subscription to %s has expired and premium access has been removed. "+
			"You can resubscribe any time from the community dashboard.",
		expiry.Username, expiry.TierName, expiry.CommunityName,
	)

	var firstErr error
	if n.cfg.Email.Enabled && expiry.Email != "" {
		if err := n.sendEmail(ctx, expiry.Email, subject, body); err != nil {
			n.log.Warn("expiry email failed", map[string]interface{}{
				"email": expiry.Email,
				"error": err.Error(),
			})
			firstErr = err
		}
	}

	if n.cfg.SMS.Enabled && expiry.Phone != "" {
		if err := n.sendSMS(ctx, expiry.Phone, subject); err != nil {
			n.log.Warn("expiry SMS failed", map[string]interface{}{
				"phone": expiry.Phone,
				"error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (n *AWSNotifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(n.cfg.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	})
	return err
}

func (n *AWSNotifier) sendSMS(ctx context.Context, phone, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
	}
	_, err := n.sns.Publish(ctx, input)
	return err
}
