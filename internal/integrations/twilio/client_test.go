package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	calls  int
	lastID string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.lastID = name
	return f.val, f.err
}

const validCreds = `{"account_sid":"AC123","auth_token":"tok"}`

// ---------------------------------------------------------------------------
// messagesURL helper
// ---------------------------------------------------------------------------

func TestMessagesURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.twilio.com", "https://api.twilio.com/2010-04-01/Accounts/AC123/Messages.json"},
		{"https://api.twilio.com/", "https://api.twilio.com/2010-04-01/Accounts/AC123/Messages.json"},
		{"http://localhost:4010", "http://localhost:4010/2010-04-01/Accounts/AC123/Messages.json"},
		{"", "https://api.twilio.com/2010-04-01/Accounts/AC123/Messages.json"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, messagesURL(tc.base, "AC123"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/covertext")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)

	c, err := NewClient(&fakeGetter{}, "/covertext/")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, "/covertext/twilio", c.credentialsParameterName())
}

// ---------------------------------------------------------------------------
// credentials caching
// ---------------------------------------------------------------------------

func TestResolveCredentials_CachedAfterSuccess(t *testing.T) {
	g := &fakeGetter{val: validCreds}
	c, err := NewClient(g, "/covertext")
	require.NoError(t, err)

	tok, err := c.AuthToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
	_, _ = c.AuthToken(context.Background())
	require.Equal(t, 1, g.calls)
	require.Equal(t, "/covertext/twilio", g.lastID)
}

func TestResolveCredentials_ErrorIsRetried(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	c, err := NewClient(g, "/covertext")
	require.NoError(t, err)

	_, err = c.AuthToken(context.Background())
	require.ErrorContains(t, err, "throttled")

	g.err = nil
	g.val = validCreds
	tok, err := c.AuthToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
	require.Equal(t, 2, g.calls)
}

func TestResolveCredentials_Incomplete(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"account_sid":"AC123"}`}, "/covertext")
	require.NoError(t, err)
	_, err = c.AuthToken(context.Background())
	require.ErrorContains(t, err, "required")
}

// ---------------------------------------------------------------------------
// SendMessage
// ---------------------------------------------------------------------------

func TestSendMessage_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "AC123", user)
		require.Equal(t, "tok", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "+15551230000", r.PostForm.Get("From"))
		require.Equal(t, "+15559876543", r.PostForm.Get("To"))
		require.Equal(t, "Reply: CARD, EXPIRING, or HELP", r.PostForm.Get("Body"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM0001","status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: validCreds}, "/covertext", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	sid, err := c.SendMessage(context.Background(), "+15551230000", "+15559876543", "Reply: CARD, EXPIRING, or HELP")
	require.NoError(t, err)
	require.Equal(t, "SM0001", sid)
}

func TestSendMessage_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: validCreds}, "/covertext", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.SendMessage(context.Background(), "+15551230000", "+15559876543", "hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
	require.Equal(t, 21211, statusErr.Code)
}

func TestSendMessage_MissingSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: validCreds}, "/covertext", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "+15551230000", "+15559876543", "hi")
	require.ErrorContains(t, err, "missing sid")
}

func TestSendMessage_ValidatesInput(t *testing.T) {
	g := &fakeGetter{val: validCreds}
	c, err := NewClient(g, "/covertext")
	require.NoError(t, err)

	_, err = c.SendMessage(context.Background(), "", "+15559876543", "hi")
	require.Error(t, err)
	_, err = c.SendMessage(context.Background(), "+15551230000", "+15559876543", "")
	require.Error(t, err)
	require.Zero(t, g.calls, "credentials must not be fetched for invalid input")
}

func TestSendMessage_CredentialError(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("ParameterNotFound")}, "/covertext")
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "+15551230000", "+15559876543", "hi")
	require.ErrorContains(t, err, "ParameterNotFound")
}
