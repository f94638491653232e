package domain

import (
	"strings"
	"time"
)

// State is a conversation state. The zero value is a session that has
// never been processed.
type State string

const (
	StateNone                    State = ""
	StateAwaitingIntentSelection State = "awaiting_intent_selection"
)

// Event drives state transitions.
type Event int

const (
	EventInboundMessage Event = iota
	EventSessionExpired
)

// Valid reports whether s may be persisted.
func (s State) Valid() bool {
	switch s {
	case StateAwaitingIntentSelection:
		return true
	}
	return false
}

// Next returns the state after ev. Only one active state exists today, so
// every event lands on awaiting_intent_selection; intent states add their
// own cases here.
func (s State) Next(ev Event) State {
	switch ev {
	case EventSessionExpired:
		return StateAwaitingIntentSelection
	case EventInboundMessage:
		return StateAwaitingIntentSelection
	}
	return s
}

// ContextKeyLastMenuSentAt is the context key holding the time of the last
// full menu send.
const ContextKeyLastMenuSentAt = "last_menu_sent_at"

// SessionContext is the cross-turn memory of a session. Known keys are
// typed fields; keys this version does not understand are kept verbatim in
// Extra so they survive a read-modify-write.
type SessionContext struct {
	// LastMenuSentAt is stored as RFC 3339 text. It is kept raw so a
	// malformed value round-trips instead of failing the load.
	LastMenuSentAt string
	Extra          map[string]string
}

// LastMenuSent parses LastMenuSentAt. Missing or unparsable values report
// false.
func (c SessionContext) LastMenuSent() (time.Time, bool) {
	raw := strings.TrimSpace(c.LastMenuSentAt)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MarkMenuSent records t as the last full menu send.
func (c *SessionContext) MarkMenuSent(t time.Time) {
	c.LastMenuSentAt = t.UTC().Format(time.RFC3339Nano)
}

// IsEmpty reports whether no keys are set.
func (c SessionContext) IsEmpty() bool {
	return c.LastMenuSentAt == "" && len(c.Extra) == 0
}

// ToMap flattens the context to its stored key/value form.
func (c SessionContext) ToMap() map[string]string {
	out := make(map[string]string, len(c.Extra)+1)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.LastMenuSentAt != "" {
		out[ContextKeyLastMenuSentAt] = c.LastMenuSentAt
	}
	return out
}

// SessionContextFromMap is the inverse of ToMap.
func SessionContextFromMap(m map[string]string) SessionContext {
	var c SessionContext
	for k, v := range m {
		if k == ContextKeyLastMenuSentAt {
			c.LastMenuSentAt = v
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]string)
		}
		c.Extra[k] = v
	}
	return c
}

// Session is the durable conversation state for one sender at one agency.
// (AgencyID, FromPhone) is unique.
type Session struct {
	ID             string
	AgencyID       string
	FromPhone      string
	State          State
	Context        SessionContext
	LastActivityAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Persisted reports whether the row existed before the find-or-create
	// that returned this value.
	Persisted bool
}

// Expired reports whether a previously persisted session is stale at now.
func (s *Session) Expired(now time.Time) bool {
	return s.Persisted && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// Reset discards cross-turn memory while keeping the session identity.
func (s *Session) Reset() {
	s.Context = SessionContext{}
	s.State = s.State.Next(EventSessionExpired)
}

// Validate checks the fields required to persist the session.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(s.AgencyID) == "" {
		return &ValidationError{Field: "agency_id", Reason: "is required"}
	}
	if strings.TrimSpace(s.FromPhone) == "" {
		return &ValidationError{Field: "from_phone", Reason: "is required"}
	}
	if !IsE164(s.FromPhone) {
		return &ValidationError{Field: "from_phone", Reason: "must be E.164"}
	}
	if !s.State.Valid() {
		return &ValidationError{Field: "state", Reason: "is not a known state"}
	}
	return nil
}
