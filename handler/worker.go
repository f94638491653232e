package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"covertext/internal/queue"
)

type Processor interface {
	ProcessInbound(ctx context.Context, messageID string) error
}

// Worker consumes job batches from SQS. Only records that failed with a
// retryable error are reported back, so SQS redelivers just those.
type Worker struct {
	proc   Processor
	logger *slog.Logger
}

func NewWorker(proc Processor, logger *slog.Logger) (*Worker, error) {
	if proc == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{proc: proc, logger: logger}, nil
}

func (w *Worker) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range ev.Records {
		logger := w.logger.With("sqs_message_id", record.MessageId)

		job, err := queue.DecodeJob(record.Body)
		if err != nil {
			logger.Error("dropping malformed job", "err", err)
			continue
		}
		logger = logger.With("message_id", job.MessageID)

		if err := w.proc.ProcessInbound(ctx, job.MessageID); err != nil {
			if queue.Retryable(err) {
				logger.Warn("inbound processing failed, will retry", "err", err)
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				continue
			}
			logger.Error("inbound processing failed permanently", "err", err)
			continue
		}
		logger.Info("inbound processed")
	}
	return resp, nil
}
