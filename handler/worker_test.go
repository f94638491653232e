package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"covertext/internal/conversation"
)

type stubProcessor struct {
	errs  map[string]error
	calls []string
}

func (s *stubProcessor) ProcessInbound(_ context.Context, id string) error {
	s.calls = append(s.calls, id)
	return s.errs[id]
}

func record(id, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: id, Body: body}
}

func TestNewWorker_ValidatesDependency(t *testing.T) {
	_, err := NewWorker(nil, nil)
	require.Error(t, err)
}

func TestWorker_ReportsOnlyRetryableFailures(t *testing.T) {
	proc := &stubProcessor{errs: map[string]error{
		"msg-missing": &conversation.Error{Code: conversation.ErrorNotFound, Reason: "inbound_message_not_found"},
		"msg-send":    &conversation.Error{Code: conversation.ErrorDelivery, Reason: "delivery_send_error"},
		"msg-store":   errors.New("dynamodb throttled"),
	}}
	w, err := NewWorker(proc, nil)
	require.NoError(t, err)

	resp, err := w.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("r1", `{"message_id":"msg-ok"}`),
		record("r2", `{"message_id":"msg-missing"}`),
		record("r3", `{"message_id":"msg-send"}`),
		record("r4", `not-json`),
		record("r5", `{"message_id":"msg-store"}`),
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"msg-ok", "msg-missing", "msg-send", "msg-store"}, proc.calls)
	require.Equal(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "r3"},
		{ItemIdentifier: "r5"},
	}, resp.BatchItemFailures)
}

func TestWorker_EmptyBatch(t *testing.T) {
	w, err := NewWorker(&stubProcessor{}, nil)
	require.NoError(t, err)
	resp, err := w.Handle(context.Background(), events.SQSEvent{})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
}
