// Package queue provides the message transport behind the notification
// pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
)

// Message is one received queue message. Deleting by receipt handle
// acknowledges it; an unacknowledged message is redelivered.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
}

// Gateway is the logical queue contract. Receive/delete failures are
// transient: callers log and retry, they never crash the poll loop.
type Gateway interface {
	Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Purge(ctx context.Context) error
}

// SQSOptions parameterise the SQS-backed gateway.
type SQSOptions struct {
	QueueURL string
	Region   string
	Endpoint string
}

// SQS implements Gateway over AWS SQS.
type SQS struct {
	client   *sqs.Client
	queueURL string
	logger   zerolog.Logger
}

// NewSQS builds an SQS gateway from ambient AWS credentials.
func NewSQS(ctx context.Context, opts SQSOptions, logger zerolog.Logger) (*SQS, error) {
	if opts.QueueURL == "" {
		return nil, errors.New("queue url not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &SQS{
		client:   client,
		queueURL: opts.QueueURL,
		logger:   logger.With().Str("component", "sqs_gateway").Logger(),
	}, nil
}

// Receive long-polls for up to maxMessages messages.
func (s *SQS) Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > 10 {
		maxMessages = 10
	}

	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{}
		if m.MessageId != nil {
			msg.ID = *m.MessageId
		}
		if m.Body != nil {
			msg.Body = []byte(*m.Body)
		}
		if m.ReceiptHandle != nil {
			msg.ReceiptHandle = *m.ReceiptHandle
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete acknowledges a message by receipt handle.
func (s *SQS) Delete(ctx context.Context, receiptHandle string) error {
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Purge drops every message in the queue.
func (s *SQS) Purge(ctx context.Context) error {
	if _, err := s.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{
		QueueUrl: aws.String(s.queueURL),
	}); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}

var _ Gateway = (*SQS)(nil)
