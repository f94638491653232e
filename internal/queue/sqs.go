package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSProducer enqueues jobs on an SQS queue consumed by the worker Lambda.
type SQSProducer struct {
	api      sqsAPI
	queueURL string
}

func NewSQSProducer(api sqsAPI, queueURL string) (*SQSProducer, error) {
	if api == nil {
		return nil, errors.New("queue: sqs api must not be nil")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("queue: queue url must not be empty")
	}
	return &SQSProducer{api: api, queueURL: queueURL}, nil
}

func (p *SQSProducer) Enqueue(ctx context.Context, messageID string) error {
	body, err := EncodeJob(Job{MessageID: messageID})
	if err != nil {
		return err
	}
	_, err = p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("queue: SendMessage: %w", err)
	}
	return nil
}
