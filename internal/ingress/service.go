// Package ingress accepts carrier webhooks: inbound messages are attributed
// to an agency, deduplicated, persisted and handed to the job queue; delivery
// status callbacks update the outbound log.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"covertext/internal/domain"
)

type AgencyDirectory interface {
	GetAgencyByPhone(ctx context.Context, phone string) (domain.Agency, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetMessageByProviderID(ctx context.Context, sid string) (domain.Message, error)
	UpdateMessageStatus(ctx context.Context, id, status string, at time.Time) error
}

type AuditRecorder interface {
	RecordAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// Enqueuer schedules ProcessInbound for a persisted inbound message.
type Enqueuer interface {
	Enqueue(ctx context.Context, messageID string) error
}

// Receipt describes what ReceiveInbound did with a notification.
type Receipt struct {
	MessageID string
	Duplicate bool
}

type Service struct {
	agencies AgencyDirectory
	messages MessageStore
	audit    AuditRecorder
	queue    Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(agencies AgencyDirectory, messages MessageStore, audit AuditRecorder, queue Enqueuer, opts ...Option) (*Service, error) {
	if agencies == nil {
		return nil, errors.New("ingress: agency directory must not be nil")
	}
	if messages == nil {
		return nil, errors.New("ingress: message store must not be nil")
	}
	if audit == nil {
		return nil, errors.New("ingress: audit recorder must not be nil")
	}
	if queue == nil {
		return nil, errors.New("ingress: enqueuer must not be nil")
	}
	s := &Service{
		agencies: agencies,
		messages: messages,
		audit:    audit,
		queue:    queue,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ReceiveInbound persists an inbound message and enqueues it for processing.
// A MessageSid seen before yields a Receipt with Duplicate set and no side
// effects.
func (s *Service) ReceiveInbound(ctx context.Context, in InboundSMS) (Receipt, error) {
	if strings.TrimSpace(in.MessageSID) == "" {
		return Receipt{}, newError(ErrorInvalidInput, "missing_message_sid", nil)
	}
	if !domain.IsE164(in.From) {
		return Receipt{}, newError(ErrorInvalidInput, "invalid_from", nil)
	}

	agency, err := s.agencies.GetAgencyByPhone(ctx, in.To)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Receipt{}, newError(ErrorUnknownAgency, "agency_not_found", err)
		}
		return Receipt{}, newError(ErrorInternal, "agency_lookup_error", err)
	}

	msg, err := s.messages.CreateMessage(ctx, domain.Message{
		AgencyID:          agency.ID,
		Direction:         domain.DirectionInbound,
		FromPhone:         in.From,
		ToPhone:           in.To,
		Body:              in.Body,
		ProviderMessageID: in.MessageSID,
		MediaCount:        in.NumMedia,
		Status:            domain.MessageStatusReceived,
		CreatedAt:         s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			s.logger.Info("duplicate inbound message ignored", "message_sid", in.MessageSID, "agency_id", agency.ID)
			return Receipt{Duplicate: true}, nil
		}
		return Receipt{}, newError(ErrorInternal, "message_write_error", err)
	}

	if err := s.queue.Enqueue(ctx, msg.ID); err != nil {
		return Receipt{}, newError(ErrorInternal, "enqueue_error", err)
	}
	return Receipt{MessageID: msg.ID}, nil
}

// ApplyStatus records a delivery status callback. Unknown message ids are
// ignored and reported with applied == false.
func (s *Service) ApplyStatus(ctx context.Context, cb StatusCallback) (bool, error) {
	if strings.TrimSpace(cb.MessageSID) == "" || strings.TrimSpace(cb.MessageStatus) == "" {
		return false, newError(ErrorInvalidInput, "missing_status_fields", nil)
	}

	msg, err := s.messages.GetMessageByProviderID(ctx, cb.MessageSID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, newError(ErrorInternal, "message_lookup_error", err)
	}

	now := s.now().UTC()
	if err := s.messages.UpdateMessageStatus(ctx, msg.ID, cb.MessageStatus, now); err != nil {
		return false, newError(ErrorInternal, "message_status_write_error", err)
	}

	err = s.audit.RecordAuditEvent(ctx, domain.AuditEvent{
		AgencyID:  msg.AgencyID,
		EventType: domain.EventDeliveryStatus,
		Metadata: map[string]string{
			"message_sid":    cb.MessageSID,
			"message_status": cb.MessageStatus,
			"timestamp":      now.Format(time.RFC3339),
		},
		CreatedAt: now,
	})
	if err != nil {
		return false, newError(ErrorInternal, "audit_write_error", err)
	}
	return true, nil
}
