package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Webhook routes, relative to the public base URL.
const (
	RouteInbound = "/webhooks/twilio/inbound"
	RouteStatus  = "/webhooks/twilio/status"
)

// EmptyTwiML acknowledges a webhook without instructing the carrier.
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type Receiver interface {
	ReceiveInbound(ctx context.Context, in InboundSMS) (Receipt, error)
	ApplyStatus(ctx context.Context, cb StatusCallback) (bool, error)
}

type SignatureVerifier interface {
	Verify(ctx context.Context, fullURL string, params url.Values, signature string) error
}

// WebhookRequest is a transport-neutral webhook call.
type WebhookRequest struct {
	Route     string
	SignedURL string
	Params    url.Values
	Signature string
	RequestID string
}

type WebhookResponse struct {
	Status      int
	ContentType string
	Body        string
}

// Webhooks verifies, parses and dispatches carrier webhooks. The Lambda
// handler and the HTTP server both delegate to it.
type Webhooks struct {
	svc      Receiver
	verifier SignatureVerifier
	logger   *slog.Logger
}

func NewWebhooks(svc Receiver, verifier SignatureVerifier, logger *slog.Logger) (*Webhooks, error) {
	if svc == nil {
		return nil, errors.New("ingress: receiver must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("ingress: signature verifier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhooks{svc: svc, verifier: verifier, logger: logger}, nil
}

func (w *Webhooks) Dispatch(ctx context.Context, req WebhookRequest) WebhookResponse {
	logger := w.logger.With("request_id", req.RequestID, "route", req.Route)

	if req.Route != RouteInbound && req.Route != RouteStatus {
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "NOT_FOUND"})
	}
	if err := w.verifier.Verify(ctx, req.SignedURL, req.Params, req.Signature); err != nil {
		return w.reject(logger, err)
	}

	switch req.Route {
	case RouteInbound:
		in, err := ParseInbound(req.Params)
		if err != nil {
			return w.reject(logger, err)
		}
		receipt, err := w.svc.ReceiveInbound(ctx, in)
		if err != nil {
			return w.reject(logger, err)
		}
		logger.Info("inbound accepted", "message_sid", in.MessageSID, "message_id", receipt.MessageID, "duplicate", receipt.Duplicate)
	case RouteStatus:
		cb, err := ParseStatus(req.Params)
		if err != nil {
			return w.reject(logger, err)
		}
		applied, err := w.svc.ApplyStatus(ctx, cb)
		if err != nil {
			return w.reject(logger, err)
		}
		logger.Info("status callback", "message_sid", cb.MessageSID, "message_status", cb.MessageStatus, "applied", applied)
	}

	return WebhookResponse{Status: http.StatusOK, ContentType: "text/xml", Body: EmptyTwiML}
}

// RejectForm answers a request whose body could not be decoded.
func (w *Webhooks) RejectForm(requestID string, err error) WebhookResponse {
	return w.reject(w.logger.With("request_id", requestID), newError(ErrorInvalidInput, "invalid_form", err))
}

func (w *Webhooks) reject(logger *slog.Logger, err error) WebhookResponse {
	code := CodeOf(err)
	body := map[string]string{"error": string(code)}
	var ie *Error
	if errors.As(err, &ie) {
		body["reason"] = ie.Reason
	}
	switch code {
	case ErrorInternal:
		logger.Error("webhook failed", "err", err)
	case ErrorInvalidSignature:
		logger.Warn("webhook signature rejected")
	default:
		logger.Info("webhook rejected", "code", code, "reason", body["reason"])
	}
	return jsonResponse(code.HTTPStatus(), body)
}

func jsonResponse(status int, body map[string]string) WebhookResponse {
	b, err := json.Marshal(body)
	if err != nil {
		return WebhookResponse{Status: http.StatusInternalServerError, ContentType: "application/json", Body: `{"error":"INTERNAL_ERROR"}`}
	}
	return WebhookResponse{Status: status, ContentType: "application/json", Body: string(b)}
}

// PublicURL is the externally visible base the webhook routes hang off, as
// configured with the carrier. Its query string, if any, is signed after
// every route.
type PublicURL struct {
	base  string
	query string
}

func ParsePublicURL(raw string) (*PublicURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("ingress: public url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("ingress: public url must be absolute")
	}
	return &PublicURL{
		base:  strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"),
		query: u.RawQuery,
	}, nil
}

// HasQuery reports whether the configured URL carries a query string.
func (p *PublicURL) HasQuery() bool {
	return p.query != ""
}

// For returns the URL the carrier signed for route. The configured query
// string wins over rawQuery, which must be in the order the carrier sent.
func (p *PublicURL) For(route, rawQuery string) string {
	u := p.base + route
	switch {
	case p.query != "":
		u += "?" + p.query
	case rawQuery != "":
		u += "?" + rawQuery
	}
	return u
}
