// Package queue schedules inbound message processing: SQS in AWS, an
// in-process worker pool for local runs.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Job is the queued unit of work.
type Job struct {
	MessageID string `json:"message_id"`
}

func EncodeJob(j Job) (string, error) {
	if strings.TrimSpace(j.MessageID) == "" {
		return "", errors.New("queue: message id is required")
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("queue: encode job: %w", err)
	}
	return string(b), nil
}

func DecodeJob(body string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return Job{}, fmt.Errorf("queue: decode job: %w", err)
	}
	if strings.TrimSpace(j.MessageID) == "" {
		return Job{}, errors.New("queue: decode job: message id is required")
	}
	return j, nil
}

// Retryable reports whether a processing error is worth another attempt.
// Errors that do not say otherwise are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
