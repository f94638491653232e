package ingress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covertext/internal/domain"
	"covertext/internal/memstore"
)

var fixedNow = time.Date(2026, 2, 10, 15, 4, 5, 0, time.UTC)

type stubQueue struct {
	ids []string
	err error
}

func (q *stubQueue) Enqueue(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type failingDirectory struct{}

func (failingDirectory) GetAgencyByPhone(context.Context, string) (domain.Agency, error) {
	return domain.Agency{}, errors.New("throttled")
}

func newService(t *testing.T) (*Service, *memstore.Store, *stubQueue) {
	t.Helper()
	store := memstore.New(memstore.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, store.PutAgencyPhone(context.Background(), domain.Agency{ID: "agency-1", SMSPhoneNumber: "+15559876543"}))
	q := &stubQueue{}
	svc, err := NewService(store, store, store, q, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return svc, store, q
}

func inbound() InboundSMS {
	return InboundSMS{From: "+15551234567", To: "+15559876543", Body: "hi", MessageSID: "SM1", NumMedia: 1}
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	store := memstore.New()
	q := &stubQueue{}
	_, err := NewService(nil, store, store, q)
	require.Error(t, err)
	_, err = NewService(store, nil, store, q)
	require.Error(t, err)
	_, err = NewService(store, store, nil, q)
	require.Error(t, err)
	_, err = NewService(store, store, store, nil)
	require.Error(t, err)
}

func TestReceiveInbound_PersistsThenEnqueues(t *testing.T) {
	svc, store, q := newService(t)

	r, err := svc.ReceiveInbound(context.Background(), inbound())
	require.NoError(t, err)
	require.False(t, r.Duplicate)
	require.NotEmpty(t, r.MessageID)
	require.Equal(t, []string{r.MessageID}, q.ids)

	msg, err := store.GetMessage(context.Background(), r.MessageID)
	require.NoError(t, err)
	require.Equal(t, "agency-1", msg.AgencyID)
	require.Equal(t, domain.DirectionInbound, msg.Direction)
	require.Equal(t, "+15551234567", msg.FromPhone)
	require.Equal(t, "+15559876543", msg.ToPhone)
	require.Equal(t, "SM1", msg.ProviderMessageID)
	require.Equal(t, 1, msg.MediaCount)
	require.Equal(t, domain.MessageStatusReceived, msg.Status)
	require.Equal(t, fixedNow, msg.CreatedAt)
}

func TestReceiveInbound_DuplicateSIDIsNoop(t *testing.T) {
	svc, store, q := newService(t)

	_, err := svc.ReceiveInbound(context.Background(), inbound())
	require.NoError(t, err)
	r, err := svc.ReceiveInbound(context.Background(), inbound())
	require.NoError(t, err)
	require.True(t, r.Duplicate)
	require.Len(t, q.ids, 1)
	require.Len(t, store.Messages(domain.DirectionInbound), 1)
}

func TestReceiveInbound_UnknownAgency(t *testing.T) {
	svc, store, q := newService(t)
	in := inbound()
	in.To = "+15550000000"

	_, err := svc.ReceiveInbound(context.Background(), in)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	require.Equal(t, ErrorUnknownAgency, ie.Code)
	require.Empty(t, q.ids)
	require.Empty(t, store.Messages(domain.DirectionInbound))
}

func TestReceiveInbound_Errors(t *testing.T) {
	t.Run("invalid from", func(t *testing.T) {
		svc, _, _ := newService(t)
		in := inbound()
		in.From = "5551234567"
		_, err := svc.ReceiveInbound(context.Background(), in)
		var ie *Error
		require.ErrorAs(t, err, &ie)
		require.Equal(t, ErrorInvalidInput, ie.Code)
	})

	t.Run("agency lookup failure", func(t *testing.T) {
		store := memstore.New()
		svc, err := NewService(failingDirectory{}, store, store, &stubQueue{})
		require.NoError(t, err)
		_, err = svc.ReceiveInbound(context.Background(), inbound())
		var ie *Error
		require.ErrorAs(t, err, &ie)
		require.Equal(t, ErrorInternal, ie.Code)
		require.Equal(t, "agency_lookup_error", ie.Reason)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		svc, _, q := newService(t)
		q.err = errors.New("sqs down")
		_, err := svc.ReceiveInbound(context.Background(), inbound())
		var ie *Error
		require.ErrorAs(t, err, &ie)
		require.Equal(t, "enqueue_error", ie.Reason)
		require.ErrorIs(t, err, q.err)
	})
}

func TestApplyStatus(t *testing.T) {
	svc, store, _ := newService(t)
	out, err := store.CreateMessage(context.Background(), domain.Message{
		AgencyID:          "agency-1",
		Direction:         domain.DirectionOutbound,
		ProviderMessageID: "SMout",
		Status:            domain.MessageStatusSent,
	})
	require.NoError(t, err)

	applied, err := svc.ApplyStatus(context.Background(), StatusCallback{MessageSID: "SMout", MessageStatus: "delivered"})
	require.NoError(t, err)
	require.True(t, applied)

	msg, err := store.GetMessage(context.Background(), out.ID)
	require.NoError(t, err)
	require.Equal(t, "delivered", msg.Status)
	require.Equal(t, fixedNow, msg.LastStatusAt)

	events := store.AuditEvents(domain.EventDeliveryStatus)
	require.Len(t, events, 1)
	require.Equal(t, "agency-1", events[0].AgencyID)
	require.Equal(t, map[string]string{
		"message_sid":    "SMout",
		"message_status": "delivered",
		"timestamp":      "2026-02-10T15:04:05Z",
	}, events[0].Metadata)
}

func TestApplyStatus_UnknownSIDIsNoop(t *testing.T) {
	svc, store, _ := newService(t)

	applied, err := svc.ApplyStatus(context.Background(), StatusCallback{MessageSID: "SMnope", MessageStatus: "delivered"})
	require.NoError(t, err)
	require.False(t, applied)
	require.Empty(t, store.AuditEvents(""))
}
