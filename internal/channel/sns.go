package channel

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const snsName = "sns"

// SNSPublisher abstracts the AWS SNS Publish call for testability.
type SNSPublisher interface {
	Publish(ctx context.Context, phoneNumber, message string) (messageID string, err error)
}

// SNSSender delivers text messages via AWS SNS direct publish.
type SNSSender struct {
	publisher SNSPublisher
}

// NewSNSSender creates an SNSSender with the given publisher.
func NewSNSSender(publisher SNSPublisher) *SNSSender {
	return &SNSSender{publisher: publisher}
}

func (s *SNSSender) SendText(ctx context.Context, to, text string) (*Receipt, error) {
	messageID, err := s.publisher.Publish(ctx, to, text)
	if err != nil {
		return nil, &SendError{Channel: snsName, Err: fmt.Errorf("publish: %w", err)}
	}
	return &Receipt{
		MessageID: messageID,
		Status:    "sent",
	}, nil
}

// awsSNSPublisher wraps the AWS SNS client to implement SNSPublisher.
type awsSNSPublisher struct {
	client *sns.Client
}

// NewSNSPublisher loads the default AWS credential chain for region and
// returns a publisher backed by the SNS API.
func NewSNSPublisher(ctx context.Context, region string) (SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &awsSNSPublisher{client: sns.NewFromConfig(cfg)}, nil
}

func (a *awsSNSPublisher) Publish(ctx context.Context, phoneNumber, message string) (string, error) {
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &phoneNumber,
		Message:     &message,
	})
	if err != nil {
		return "", err
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}
