package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"covertext/internal/domain"
)

const (
	// SessionExpiry is how long a session keeps its context after the last
	// inbound message.
	SessionExpiry = 15 * time.Minute
	// MenuRateLimit is the window after a full menu send during which
	// replies use the short menu.
	MenuRateLimit = 60 * time.Second
)

type MessageReader interface {
	GetMessage(ctx context.Context, id string) (domain.Message, error)
}

type SessionStore interface {
	FindOrCreateSession(ctx context.Context, agencyID, phone string) (domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
}

// Messenger sends one SMS and logs the attempt itself, success or failure.
type Messenger interface {
	SendSMS(ctx context.Context, agency domain.Agency, to, body string) (domain.Message, error)
}

type AuditRecorder interface {
	RecordAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// Manager runs the inbound message cycle: resolve the sender's session,
// apply expiry, re-arm it, reply with a menu, and audit the reply.
type Manager struct {
	messages  MessageReader
	sessions  SessionStore
	messenger Messenger
	audit     AuditRecorder
	now       func() time.Time
}

type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(messages MessageReader, sessions SessionStore, messenger Messenger, audit AuditRecorder, opts ...Option) (*Manager, error) {
	if messages == nil {
		return nil, errors.New("conversation: message reader must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("conversation: session store must not be nil")
	}
	if messenger == nil {
		return nil, errors.New("conversation: messenger must not be nil")
	}
	if audit == nil {
		return nil, errors.New("conversation: audit recorder must not be nil")
	}
	m := &Manager{
		messages:  messages,
		sessions:  sessions,
		messenger: messenger,
		audit:     audit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ProcessInbound handles one inbound message. It never retries; a returned
// *Error tells the caller whether a retry can help.
func (m *Manager) ProcessInbound(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return newError(ErrorNotFound, "inbound_message_not_found", errors.New("empty message id"))
	}

	msg, err := m.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return newError(ErrorNotFound, "inbound_message_not_found", err)
		}
		return newError(ErrorInternal, "message_load_error", err)
	}
	if msg.Direction != domain.DirectionInbound {
		return newError(ErrorNotFound, "inbound_message_not_found", fmt.Errorf("message %q is %s", messageID, msg.Direction))
	}

	sess, err := m.sessions.FindOrCreateSession(ctx, msg.AgencyID, msg.FromPhone)
	if err != nil {
		return storeError("session_load_error", err)
	}

	now := m.now()
	if sess.Expired(now) {
		sess.Reset()
	}
	sess.State = sess.State.Next(domain.EventInboundMessage)
	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(SessionExpiry)
	if err := m.sessions.SaveSession(ctx, &sess); err != nil {
		return storeError("session_save_error", err)
	}

	template := selectMenu(sess.Context, now)
	body, _ := TemplateBody(template)
	agency := domain.Agency{ID: msg.AgencyID, SMSPhoneNumber: msg.ToPhone}

	_, sendErr := m.messenger.SendSMS(ctx, agency, msg.FromPhone, body)
	if sendErr == nil && template == TemplateGlobalMenu {
		sess.Context.MarkMenuSent(now)
		if err := m.sessions.SaveSession(ctx, &sess); err != nil {
			return storeError("session_save_error", err)
		}
	}

	ev := domain.AuditEvent{
		AgencyID:  msg.AgencyID,
		EventType: domain.EventConversationMenuSent,
		Metadata: map[string]string{
			"message_id": msg.ID,
			"template":   template,
			"session_id": sess.ID,
		},
		CreatedAt: now,
	}
	if sendErr != nil {
		ev.Metadata["delivery"] = domain.MessageStatusFailed
	}
	auditErr := m.audit.RecordAuditEvent(ctx, ev)

	if sendErr != nil {
		var ve *domain.ValidationError
		if errors.As(sendErr, &ve) {
			return newError(ErrorValidation, "delivery_invalid", errors.Join(sendErr, auditErr))
		}
		return newError(ErrorDelivery, "delivery_send_error", errors.Join(sendErr, auditErr))
	}
	if auditErr != nil {
		return newError(ErrorInternal, "audit_write_error", auditErr)
	}
	return nil
}

// selectMenu applies the menu rate limit. Only full menu sends set
// last_menu_sent_at, so the window is anchored on them; an unreadable
// timestamp counts as no prior send.
func selectMenu(c domain.SessionContext, now time.Time) string {
	last, ok := c.LastMenuSent()
	if ok && now.Sub(last) < MenuRateLimit {
		return TemplateGlobalMenuShort
	}
	return TemplateGlobalMenu
}

func storeError(reason string, err error) *Error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newError(ErrorValidation, "session_invalid", err)
	}
	return newError(ErrorInternal, reason, err)
}
