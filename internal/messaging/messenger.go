// Package messaging sends outbound SMS and keeps the outbound message log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"covertext/internal/domain"
)

// Sender is a carrier capable of sending one SMS. It returns the carrier's
// message id.
type Sender interface {
	SendMessage(ctx context.Context, from, to, body string) (string, error)
}

type MessageLogger interface {
	CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
}

// SendError is a failed carrier send. The attempt has already been logged.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	if e == nil || e.Err == nil {
		return "messaging: send failed"
	}
	return "messaging: send failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Messenger sends SMS on behalf of an agency and logs every attempt as an
// outbound message.
type Messenger struct {
	sender Sender
	log    MessageLogger
	logger *slog.Logger
}

type Option func(*Messenger)

func WithLogger(l *slog.Logger) Option {
	return func(m *Messenger) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(sender Sender, log MessageLogger, opts ...Option) (*Messenger, error) {
	if sender == nil {
		return nil, errors.New("messaging: sender must not be nil")
	}
	if log == nil {
		return nil, errors.New("messaging: message logger must not be nil")
	}
	m := &Messenger{sender: sender, log: log, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendSMS sends body from the agency's number to to. A carrier failure is
// logged with status failed and returned as *SendError. A log write failure
// after a successful send is reported in the logs only, so callers that
// retry on error never send the same reply twice.
func (m *Messenger) SendSMS(ctx context.Context, agency domain.Agency, to, body string) (domain.Message, error) {
	if strings.TrimSpace(agency.ID) == "" {
		return domain.Message{}, &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if strings.TrimSpace(agency.SMSPhoneNumber) == "" {
		return domain.Message{}, &domain.ValidationError{Field: "sms_phone_number", Reason: "is required"}
	}

	rec := domain.Message{
		AgencyID:  agency.ID,
		Direction: domain.DirectionOutbound,
		FromPhone: agency.SMSPhoneNumber,
		ToPhone:   to,
		Body:      body,
	}

	sid, sendErr := m.sender.SendMessage(ctx, agency.SMSPhoneNumber, to, body)
	if sendErr != nil {
		m.logger.Error("sms send failed", "agency_id", agency.ID, "to", to, "err", sendErr)
		rec.Status = domain.MessageStatusFailed
		if _, err := m.log.CreateMessage(ctx, rec); err != nil {
			m.logger.Error("failed to log outbound message", "agency_id", agency.ID, "err", err)
		}
		return rec, &SendError{Err: sendErr}
	}

	rec.ProviderMessageID = sid
	rec.Status = domain.MessageStatusSent
	saved, err := m.log.CreateMessage(ctx, rec)
	if err != nil {
		m.logger.Error("failed to log outbound message", "agency_id", agency.ID, "provider_message_id", sid, "err", err)
		return rec, nil
	}
	return saved, nil
}

// LogSender is a Sender for local runs. It writes each message to the
// logger instead of a carrier.
type LogSender struct {
	logger *slog.Logger
	seq    atomic.Uint64
}

func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}
	return &LogSender{logger: l}
}

func (s *LogSender) SendMessage(_ context.Context, from, to, body string) (string, error) {
	sid := fmt.Sprintf("SMlocal%06d", s.seq.Add(1))
	s.logger.Info("sms", "sid", sid, "from", from, "to", to, "body", body)
	return sid, nil
}
