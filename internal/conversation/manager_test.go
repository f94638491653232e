package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covertext/internal/domain"
	"covertext/internal/memstore"
)

const (
	agencyID    = "agency-reliable"
	agencyPhone = "+15551230000"
	senderPhone = "+15559876543"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentSMS struct {
	agency domain.Agency
	to     string
	body   string
}

type stubMessenger struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (m *stubMessenger) SendSMS(_ context.Context, agency domain.Agency, to, body string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentSMS{agency: agency, to: to, body: body})
	if m.err != nil {
		return domain.Message{}, m.err
	}
	return domain.Message{Direction: domain.DirectionOutbound, ToPhone: to, Body: body}, nil
}

func (m *stubMessenger) last(t *testing.T) sentSMS {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

// recordingSessions captures every saved session so tests can inspect
// intermediate writes.
type recordingSessions struct {
	SessionStore
	saves   []domain.Session
	saveErr error
}

func (r *recordingSessions) SaveSession(ctx context.Context, s *domain.Session) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves = append(r.saves, *s)
	return r.SessionStore.SaveSession(ctx, s)
}

type failingAudit struct{ err error }

func (f failingAudit) RecordAuditEvent(context.Context, domain.AuditEvent) error { return f.err }

type fixture struct {
	store     *memstore.Store
	clock     *testClock
	messenger *stubMessenger
	manager   *Manager
	seq       int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.WithClock(clock.Now))
	messenger := &stubMessenger{}
	mgr, err := NewManager(store, store, messenger, store, WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{store: store, clock: clock, messenger: messenger, manager: mgr}
}

func (f *fixture) inbound(t *testing.T, from, body string) domain.Message {
	t.Helper()
	f.seq++
	msg, err := f.store.CreateMessage(context.Background(), domain.Message{
		AgencyID:          agencyID,
		Direction:         domain.DirectionInbound,
		FromPhone:         from,
		ToPhone:           agencyPhone,
		Body:              body,
		ProviderMessageID: fmt.Sprintf("SM%032d", f.seq),
	})
	require.NoError(t, err)
	return msg
}

func (f *fixture) process(t *testing.T, body string) domain.Message {
	t.Helper()
	msg := f.inbound(t, senderPhone, body)
	require.NoError(t, f.manager.ProcessInbound(context.Background(), msg.ID))
	return msg
}

func (f *fixture) session(t *testing.T) domain.Session {
	t.Helper()
	sess, ok := f.store.Session(agencyID, senderPhone)
	require.True(t, ok)
	return sess
}

func (f *fixture) lastAudit(t *testing.T) domain.AuditEvent {
	t.Helper()
	events := f.store.AuditEvents(domain.EventConversationMenuSent)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func expectManagerError(t *testing.T, err error, code ErrorCode, reason string) *Error {
	t.Helper()
	var convErr *Error
	require.ErrorAs(t, err, &convErr)
	require.Equal(t, code, convErr.Code)
	require.Equal(t, reason, convErr.Reason)
	return convErr
}

func TestNewManager_ValidatesDependencies(t *testing.T) {
	store := memstore.New()
	m := &stubMessenger{}

	_, err := NewManager(nil, store, m, store)
	require.Error(t, err)
	_, err = NewManager(store, nil, m, store)
	require.Error(t, err)
	_, err = NewManager(store, store, nil, store)
	require.Error(t, err)
	_, err = NewManager(store, store, m, nil)
	require.Error(t, err)
}

func TestProcessInbound_FirstMessageCreatesSessionAndSendsFullMenu(t *testing.T) {
	f := newFixture(t)
	msg := f.process(t, "Hello")

	require.Equal(t, 1, f.store.SessionCount())
	sess := f.session(t)
	require.Equal(t, domain.StateAwaitingIntentSelection, sess.State)
	require.Equal(t, f.clock.Now(), sess.LastActivityAt)
	require.NotEmpty(t, sess.ID)

	sent := f.messenger.last(t)
	require.Equal(t, senderPhone, sent.to)
	require.Equal(t, domain.Agency{ID: agencyID, SMSPhoneNumber: agencyPhone}, sent.agency)
	require.Contains(t, sent.body, "Welcome to CoverText")
	require.Contains(t, sent.body, "CARD")
	require.Contains(t, sent.body, "EXPIRING")
	require.Contains(t, sent.body, "HELP")

	events := f.store.AuditEvents(domain.EventConversationMenuSent)
	require.Len(t, events, 1)
	require.Equal(t, agencyID, events[0].AgencyID)
	require.Equal(t, map[string]string{
		"message_id": msg.ID,
		"template":   TemplateGlobalMenu,
		"session_id": sess.ID,
	}, events[0].Metadata)
}

func TestProcessInbound_SubsequentMessageReusesSession(t *testing.T) {
	f := newFixture(t)
	f.process(t, "First")
	first := f.session(t)

	f.clock.Advance(5 * time.Minute)
	f.process(t, "Second")

	require.Equal(t, 1, f.store.SessionCount())
	second := f.session(t)
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.LastActivityAt.After(first.LastActivityAt))
}

func TestProcessInbound_ShortMenuWithinRateLimit(t *testing.T) {
	f := newFixture(t)
	f.process(t, "First")
	anchor := f.session(t).Context.LastMenuSentAt

	f.clock.Advance(30 * time.Second)
	f.process(t, "Second")

	require.Equal(t, 1, f.store.SessionCount())
	sent := f.messenger.last(t)
	require.Equal(t, "Reply: CARD, EXPIRING, or HELP", sent.body)
	require.NotContains(t, sent.body, "Welcome")
	require.Equal(t, TemplateGlobalMenuShort, f.lastAudit(t).Metadata["template"])
	require.Equal(t, anchor, f.session(t).Context.LastMenuSentAt, "short menu must not move the anchor")
}

func TestProcessInbound_FullMenuAfterRateLimit(t *testing.T) {
	f := newFixture(t)
	f.process(t, "First")

	f.clock.Advance(61 * time.Second)
	f.process(t, "Second")

	require.Contains(t, f.messenger.last(t).body, "Welcome to CoverText")
	require.Equal(t, TemplateGlobalMenu, f.lastAudit(t).Metadata["template"])
}

func TestProcessInbound_RateLimitAnchorsOnFullSendsOnly(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()

	steps := []struct {
		at   time.Duration
		want string
	}{
		{0, TemplateGlobalMenu},
		{30 * time.Second, TemplateGlobalMenuShort},
		{59 * time.Second, TemplateGlobalMenuShort},
		{61 * time.Second, TemplateGlobalMenu},
		{91 * time.Second, TemplateGlobalMenuShort},
		{120 * time.Second, TemplateGlobalMenuShort},
		{121 * time.Second, TemplateGlobalMenu},
	}
	for _, step := range steps {
		f.clock.t = start.Add(step.at)
		f.process(t, "ping")
		require.Equal(t, step.want, f.lastAudit(t).Metadata["template"], "at T+%s", step.at)
	}

	sess := f.session(t)
	last, ok := sess.Context.LastMenuSent()
	require.True(t, ok)
	require.Equal(t, start.Add(121*time.Second), last)
}

func TestProcessInbound_ExpiredSessionIsResetInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.store.FindOrCreateSession(ctx, agencyID, senderPhone)
	require.NoError(t, err)
	seeded.State = domain.StateAwaitingIntentSelection
	seeded.Context = domain.SessionContext{Extra: map[string]string{"old_data": "should_be_cleared"}}
	seeded.Context.MarkMenuSent(f.clock.Now().Add(-10 * time.Second))
	seeded.LastActivityAt = f.clock.Now().Add(-20 * time.Minute)
	seeded.ExpiresAt = f.clock.Now().Add(-5 * time.Minute)
	require.NoError(t, f.store.SaveSession(ctx, &seeded))

	rec := &recordingSessions{SessionStore: f.store}
	mgr, err := NewManager(f.store, rec, f.messenger, f.store, WithClock(f.clock.Now))
	require.NoError(t, err)

	msg := f.inbound(t, senderPhone, "New message")
	require.NoError(t, mgr.ProcessInbound(ctx, msg.ID))

	require.Len(t, rec.saves, 2)
	require.True(t, rec.saves[0].Context.IsEmpty(), "context must be empty before last_menu_sent_at is written")
	require.Equal(t, domain.StateAwaitingIntentSelection, rec.saves[0].State)

	sess := f.session(t)
	require.Equal(t, seeded.ID, sess.ID)
	require.Equal(t, 1, f.store.SessionCount())
	require.NotContains(t, sess.Context.Extra, "old_data")
	require.NotEmpty(t, sess.Context.LastMenuSentAt)
	// The reset drops the recent anchor, so the full menu goes out.
	require.Equal(t, TemplateGlobalMenu, f.lastAudit(t).Metadata["template"])
}

func TestProcessInbound_LiveSessionKeepsContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.store.FindOrCreateSession(ctx, agencyID, senderPhone)
	require.NoError(t, err)
	seeded.State = domain.StateAwaitingIntentSelection
	seeded.Context = domain.SessionContext{Extra: map[string]string{"pending_card": "auto"}}
	seeded.ExpiresAt = f.clock.Now().Add(5 * time.Minute)
	require.NoError(t, f.store.SaveSession(ctx, &seeded))

	f.process(t, "Hi again")
	require.Equal(t, "auto", f.session(t).Context.Extra["pending_card"])
}

func TestProcessInbound_ExpiresAtIsFifteenMinutesOut(t *testing.T) {
	f := newFixture(t)
	f.process(t, "Test")
	require.Equal(t, f.clock.Now().Add(15*time.Minute), f.session(t).ExpiresAt)

	f.clock.Advance(7 * time.Minute)
	f.process(t, "Again")
	require.Equal(t, f.clock.Now().Add(15*time.Minute), f.session(t).ExpiresAt)
}

func TestProcessInbound_MalformedLastMenuSentAtFailsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.store.FindOrCreateSession(ctx, agencyID, senderPhone)
	require.NoError(t, err)
	seeded.State = domain.StateAwaitingIntentSelection
	seeded.Context = domain.SessionContext{LastMenuSentAt: "not-a-timestamp"}
	seeded.ExpiresAt = f.clock.Now().Add(10 * time.Minute)
	require.NoError(t, f.store.SaveSession(ctx, &seeded))

	f.process(t, "Hello?")

	require.Contains(t, f.messenger.last(t).body, "Welcome to CoverText")
	require.Equal(t, TemplateGlobalMenu, f.lastAudit(t).Metadata["template"])
	last, ok := f.session(t).Context.LastMenuSent()
	require.True(t, ok)
	require.Equal(t, f.clock.Now(), last)
}

func TestProcessInbound_MissingMessage(t *testing.T) {
	f := newFixture(t)

	err := f.manager.ProcessInbound(context.Background(), "does-not-exist")
	convErr := expectManagerError(t, err, ErrorNotFound, "inbound_message_not_found")
	require.False(t, convErr.Retryable())
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Zero(t, f.store.SessionCount())
	require.Empty(t, f.store.AuditEvents(""))
	require.Empty(t, f.messenger.sent)

	err = f.manager.ProcessInbound(context.Background(), "  ")
	expectManagerError(t, err, ErrorNotFound, "inbound_message_not_found")
}

func TestProcessInbound_OutboundMessageIDIsNotProcessed(t *testing.T) {
	f := newFixture(t)
	out, err := f.store.CreateMessage(context.Background(), domain.Message{
		AgencyID:  agencyID,
		Direction: domain.DirectionOutbound,
		FromPhone: agencyPhone,
		ToPhone:   senderPhone,
		Body:      "Reply: CARD, EXPIRING, or HELP",
	})
	require.NoError(t, err)

	err = f.manager.ProcessInbound(context.Background(), out.ID)
	expectManagerError(t, err, ErrorNotFound, "inbound_message_not_found")
	require.Zero(t, f.store.SessionCount())
}

func TestProcessInbound_InvalidSenderFailsBeforeReply(t *testing.T) {
	f := newFixture(t)
	msg := f.inbound(t, "not-a-phone", "hi")

	err := f.manager.ProcessInbound(context.Background(), msg.ID)
	convErr := expectManagerError(t, err, ErrorValidation, "session_invalid")
	require.False(t, convErr.Retryable())
	require.Empty(t, f.messenger.sent)
	require.Empty(t, f.store.AuditEvents(""))
}

func TestProcessInbound_SaveFailureAbortsBeforeReply(t *testing.T) {
	f := newFixture(t)
	rec := &recordingSessions{SessionStore: f.store, saveErr: errors.New("dynamodb down")}
	mgr, err := NewManager(f.store, rec, f.messenger, f.store, WithClock(f.clock.Now))
	require.NoError(t, err)

	msg := f.inbound(t, senderPhone, "hi")
	err = mgr.ProcessInbound(context.Background(), msg.ID)
	convErr := expectManagerError(t, err, ErrorInternal, "session_save_error")
	require.True(t, convErr.Retryable())
	require.Empty(t, f.messenger.sent)
	require.Empty(t, f.store.AuditEvents(""))

	rec.saveErr = &domain.ValidationError{Field: "id", Reason: "conflicts with the stored session for this sender"}
	err = mgr.ProcessInbound(context.Background(), msg.ID)
	expectManagerError(t, err, ErrorValidation, "session_invalid")
	require.Empty(t, f.messenger.sent)
}

func TestProcessInbound_DeliveryFailureStillAudits(t *testing.T) {
	f := newFixture(t)
	sendErr := errors.New("carrier unavailable")
	f.messenger.err = sendErr

	msg := f.inbound(t, senderPhone, "hi")
	err := f.manager.ProcessInbound(context.Background(), msg.ID)
	convErr := expectManagerError(t, err, ErrorDelivery, "delivery_send_error")
	require.True(t, convErr.Retryable())
	require.ErrorIs(t, err, sendErr)

	events := f.store.AuditEvents(domain.EventConversationMenuSent)
	require.Len(t, events, 1)
	require.Equal(t, TemplateGlobalMenu, events[0].Metadata["template"])
	require.Equal(t, domain.MessageStatusFailed, events[0].Metadata["delivery"])

	// The session stays re-armed but no menu send is recorded.
	sess := f.session(t)
	require.Equal(t, domain.StateAwaitingIntentSelection, sess.State)
	require.Equal(t, f.clock.Now().Add(SessionExpiry), sess.ExpiresAt)
	require.Empty(t, sess.Context.LastMenuSentAt)
}

func TestProcessInbound_UnsendableReplyIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.messenger.err = &domain.ValidationError{Field: "sms_phone_number", Reason: "is required"}

	msg := f.inbound(t, senderPhone, "hi")
	err := f.manager.ProcessInbound(context.Background(), msg.ID)
	convErr := expectManagerError(t, err, ErrorValidation, "delivery_invalid")
	require.False(t, convErr.Retryable())

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "sms_phone_number", ve.Field)
	require.Len(t, f.store.AuditEvents(domain.EventConversationMenuSent), 1)
}

func TestProcessInbound_AuditFailure(t *testing.T) {
	f := newFixture(t)
	mgr, err := NewManager(f.store, f.store, f.messenger, failingAudit{err: errors.New("write failed")}, WithClock(f.clock.Now))
	require.NoError(t, err)

	msg := f.inbound(t, senderPhone, "hi")
	err = mgr.ProcessInbound(context.Background(), msg.ID)
	expectManagerError(t, err, ErrorInternal, "audit_write_error")
	require.Len(t, f.messenger.sent, 1)
}

func TestProcessInbound_ConcurrentMessagesShareOneSession(t *testing.T) {
	f := newFixture(t)
	const n = 25

	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.inbound(t, senderPhone, fmt.Sprintf("msg %d", i)).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- f.manager.ProcessInbound(context.Background(), id)
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, f.store.SessionCount())
	events := f.store.AuditEvents(domain.EventConversationMenuSent)
	require.Len(t, events, n)
	sessionID := f.session(t).ID
	for _, ev := range events {
		require.Equal(t, sessionID, ev.Metadata["session_id"])
	}
}

func TestProcessInbound_SendersAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.inbound(t, "+15550000001", "hi")
	b := f.inbound(t, "+15550000002", "hi")

	require.NoError(t, f.manager.ProcessInbound(context.Background(), a.ID))
	require.NoError(t, f.manager.ProcessInbound(context.Background(), b.ID))

	require.Equal(t, 2, f.store.SessionCount())
	for _, ev := range f.store.AuditEvents(domain.EventConversationMenuSent) {
		require.Equal(t, TemplateGlobalMenu, ev.Metadata["template"])
	}
}

func TestSelectMenu(t *testing.T) {
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"absent", "", TemplateGlobalMenu},
		{"recent", now.Add(-30 * time.Second).Format(time.RFC3339), TemplateGlobalMenuShort},
		{"exactly at limit", now.Add(-60 * time.Second).Format(time.RFC3339), TemplateGlobalMenu},
		{"stale", now.Add(-61 * time.Second).Format(time.RFC3339Nano), TemplateGlobalMenu},
		{"garbage", "yesterday-ish", TemplateGlobalMenu},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := selectMenu(domain.SessionContext{LastMenuSentAt: tc.raw}, now)
			require.Equal(t, tc.want, got)
		})
	}
}
