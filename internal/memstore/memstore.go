// Package memstore is a thread-safe in-memory implementation of the
// CoverText stores. It backs the local server and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"covertext/internal/domain"
)

type sessionKey struct {
	agencyID string
	phone    string
}

// Store holds sessions, messages, audit events and agency numbers.
type Store struct {
	mu         sync.RWMutex
	sessions   map[sessionKey]domain.Session
	messages   map[string]domain.Message
	order      []string // message ids in insertion order
	byProvider map[string]string
	audit      []domain.AuditEvent
	agencies   map[string]string // phone -> agency id

	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for timestamps the store assigns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:   make(map[sessionKey]domain.Session),
		messages:   make(map[string]domain.Message),
		byProvider: make(map[string]string),
		agencies:   make(map[string]string),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOrCreateSession returns the session for the key, creating it under
// the store lock so concurrent callers share one row.
func (s *Store) FindOrCreateSession(_ context.Context, agencyID, phone string) (domain.Session, error) {
	if strings.TrimSpace(agencyID) == "" {
		return domain.Session{}, &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if !domain.IsE164(phone) {
		return domain.Session{}, &domain.ValidationError{Field: "from_phone", Reason: "must be E.164"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{agencyID: agencyID, phone: phone}
	if existing, ok := s.sessions[k]; ok {
		out := cloneSession(existing)
		out.Persisted = true
		return out, nil
	}
	created := domain.Session{
		ID:        s.newID(),
		AgencyID:  agencyID,
		FromPhone: phone,
		CreatedAt: s.now().UTC(),
	}
	s.sessions[k] = created
	return cloneSession(created), nil
}

// SaveSession stores a copy of sess.
func (s *Store) SaveSession(_ context.Context, sess *domain.Session) error {
	if sess == nil {
		return &domain.ValidationError{Field: "session", Reason: "is required"}
	}
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{agencyID: sess.AgencyID, phone: sess.FromPhone}
	if existing, ok := s.sessions[k]; ok && existing.ID != sess.ID {
		return &domain.ValidationError{Field: "id", Reason: "conflicts with the stored session for this sender"}
	}
	now := s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	sess.Persisted = true
	s.sessions[k] = cloneSession(*sess)
	return nil
}

// Session returns the stored session for the key.
func (s *Store) Session(agencyID, phone string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{agencyID: agencyID, phone: phone}]
	return cloneSession(sess), ok
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CreateMessage stores msg, rejecting a repeated provider id with
// domain.ErrDuplicate.
func (s *Store) CreateMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if strings.TrimSpace(msg.AgencyID) == "" {
		return domain.Message{}, &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if msg.Direction != domain.DirectionInbound && msg.Direction != domain.DirectionOutbound {
		return domain.Message{}, &domain.ValidationError{Field: "direction", Reason: "must be inbound or outbound"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ProviderMessageID != "" {
		if _, ok := s.byProvider[msg.ProviderMessageID]; ok {
			return domain.Message{}, fmt.Errorf("memstore: provider id %q: %w", msg.ProviderMessageID, domain.ErrDuplicate)
		}
	}
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if _, ok := s.messages[msg.ID]; ok {
		return domain.Message{}, fmt.Errorf("memstore: message %q: %w", msg.ID, domain.ErrDuplicate)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	if msg.ProviderMessageID != "" {
		s.byProvider[msg.ProviderMessageID] = msg.ID
	}
	return msg, nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(_ context.Context, id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("memstore: message %q: %w", id, domain.ErrNotFound)
	}
	return msg, nil
}

// GetMessageByProviderID resolves a carrier message id.
func (s *Store) GetMessageByProviderID(ctx context.Context, sid string) (domain.Message, error) {
	s.mu.RLock()
	id, ok := s.byProvider[sid]
	s.mu.RUnlock()
	if !ok {
		return domain.Message{}, fmt.Errorf("memstore: provider id %q: %w", sid, domain.ErrNotFound)
	}
	return s.GetMessage(ctx, id)
}

// UpdateMessageStatus records a delivery status.
func (s *Store) UpdateMessageStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("memstore: message %q: %w", id, domain.ErrNotFound)
	}
	msg.Status = status
	msg.LastStatusAt = at
	s.messages[id] = msg
	return nil
}

// Messages returns messages of the given direction in insertion order.
func (s *Store) Messages(direction domain.Direction) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, id := range s.order {
		if msg := s.messages[id]; msg.Direction == direction {
			out = append(out, msg)
		}
	}
	return out
}

// RecordAuditEvent appends ev.
func (s *Store) RecordAuditEvent(_ context.Context, ev domain.AuditEvent) error {
	if strings.TrimSpace(ev.AgencyID) == "" {
		return &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return &domain.ValidationError{Field: "event_type", Reason: "is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = s.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	meta := make(map[string]string, len(ev.Metadata))
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	ev.Metadata = meta
	s.audit = append(s.audit, ev)
	return nil
}

// AuditEvents returns recorded events of the given type, oldest first. An
// empty eventType returns all events.
func (s *Store) AuditEvents(eventType string) []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEvent
	for _, ev := range s.audit {
		if eventType == "" || ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetAgencyByPhone resolves the agency owning an SMS number.
func (s *Store) GetAgencyByPhone(_ context.Context, phone string) (domain.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.agencies[phone]
	if !ok {
		return domain.Agency{}, fmt.Errorf("memstore: agency for %q: %w", phone, domain.ErrNotFound)
	}
	return domain.Agency{ID: id, SMSPhoneNumber: phone}, nil
}

// PutAgencyPhone maps an SMS number to its agency.
func (s *Store) PutAgencyPhone(_ context.Context, a domain.Agency) error {
	if strings.TrimSpace(a.ID) == "" {
		return &domain.ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if !domain.IsE164(a.SMSPhoneNumber) {
		return &domain.ValidationError{Field: "sms_phone_number", Reason: "must be E.164"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agencies[a.SMSPhoneNumber] = a.ID
	return nil
}

// cloneSession copies the context maps so callers never share them with
// the store.
func cloneSession(sess domain.Session) domain.Session {
	if sess.Context.Extra != nil {
		extra := make(map[string]string, len(sess.Context.Extra))
		for k, v := range sess.Context.Extra {
			extra[k] = v
		}
		sess.Context.Extra = extra
	}
	return sess
}
