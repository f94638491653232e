package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"covertext/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.twilio.com"

// credentials is the expected JSON shape stored in SSM for the account.
type credentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// messageResponse is the subset of the Messages resource we read back.
type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// errorResponse is Twilio's error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Code       int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: unexpected status %d (code %d) from %s: %s", e.StatusCode, e.Code, e.URL, e.Body)
	}
	return fmt.Sprintf("twilio: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends SMS through the Twilio Messages API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	credMu     sync.RWMutex
	credLoaded bool
	creds      credentials
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client whose account credentials are read from SSM at
// <paramPrefix>/twilio on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("twilio: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("twilio: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AuthToken returns the account auth token, which also keys webhook
// signatures.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}
	return creds.AuthToken, nil
}

// resolveCredentials loads the credentials once per process. A failed load
// is not cached, so the next call retries SSM.
func (c *Client) resolveCredentials(ctx context.Context) (credentials, error) {
	c.credMu.RLock()
	if c.credLoaded {
		creds := c.creds
		c.credMu.RUnlock()
		return creds, nil
	}
	c.credMu.RUnlock()

	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.credLoaded {
		return c.creds, nil
	}

	var creds credentials
	if err := paramstore.DecodeJSON(ctx, c.getter, c.credentialsParameterName(), &creds); err != nil {
		return credentials{}, fmt.Errorf("twilio: load credentials: %w", err)
	}
	if creds.AccountSID == "" || creds.AuthToken == "" {
		return credentials{}, errors.New("twilio: account_sid and auth_token are required")
	}
	c.creds = creds
	c.credLoaded = true
	return creds, nil
}

func (c *Client) credentialsParameterName() string {
	return c.paramPrefix + "/twilio"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func messagesURL(baseURL, accountSID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/2010-04-01/Accounts/" + url.PathEscape(accountSID) + "/Messages.json"
}

// SendMessage creates an outbound SMS and returns the provider message sid.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return "", errors.New("twilio: from and to are required")
	}
	if body == "" {
		return "", errors.New("twilio: body must not be empty")
	}

	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := messagesURL(c.baseURL, creds.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	raw, err := c.doRequest(req, endpoint)
	if err != nil {
		return "", fmt.Errorf("twilio: request failed: %w", err)
	}

	var payload messageResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("twilio: decode response: %w", err)
	}
	if payload.SID == "" {
		return "", errors.New("twilio: response missing sid")
	}
	return payload.SID, nil
}

func (c *Client) doRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
		var apiErr errorResponse
		if json.Unmarshal(buf, &apiErr) == nil {
			statusErr.Code = apiErr.Code
		}
		return nil, statusErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
