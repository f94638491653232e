// Package handler adapts the ingress service and the conversation manager to
// Lambda events: API Gateway webhooks and SQS job batches.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"covertext/internal/ingress"
)

const (
	InboundPath = ingress.RouteInbound
	StatusPath  = ingress.RouteStatus

	correlationHeader = "X-Correlation-Id"
)

type Ingress = ingress.Receiver

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handler serves the carrier webhooks behind API Gateway.
type Handler struct {
	webhooks  *ingress.Webhooks
	publicURL string
	public    *ingress.PublicURL
	logger    *slog.Logger
}

type Option func(*Handler)

// WithPublicURL sets the base URL the webhooks are configured under with
// the carrier, stage included. Its query string, if any, is signed in the
// order given. Without it the URL is rebuilt from the Host header and the
// stage-qualified request path.
func WithPublicURL(base string) Option {
	return func(h *Handler) {
		h.publicURL = base
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(svc Ingress, verifier ingress.SignatureVerifier, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: ingress must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("handler: signature verifier must not be nil")
	}
	h := &Handler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if strings.TrimSpace(h.publicURL) != "" {
		p, err := ingress.ParsePublicURL(h.publicURL)
		if err != nil {
			return nil, err
		}
		h.public = p
	}
	webhooks, err := ingress.NewWebhooks(svc, verifier, h.logger)
	if err != nil {
		return nil, err
	}
	h.webhooks = webhooks
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	route := routeFor(req.Path)
	if route == "" {
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: "NOT_FOUND"}), nil
	}
	if req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	params, err := formParams(req)
	if err != nil {
		return toProxyResponse(h.webhooks.RejectForm(correlationID, err), correlationID), nil
	}

	resp := h.webhooks.Dispatch(ctx, ingress.WebhookRequest{
		Route:     route,
		SignedURL: h.signedURL(req, route),
		Params:    params,
		Signature: header(req.Headers, ingress.SignatureHeader),
		RequestID: correlationID,
	})
	return toProxyResponse(resp, correlationID), nil
}

// signedURL rebuilds the URL the carrier signed. API Gateway hands query
// parameters over as a map, so only a configured public URL preserves
// their original order; otherwise they are signed in key order.
func (h *Handler) signedURL(req events.APIGatewayProxyRequest, route string) string {
	rawQuery := ""
	if len(req.QueryStringParameters) > 0 {
		q := url.Values{}
		for k, v := range req.QueryStringParameters {
			q.Set(k, v)
		}
		rawQuery = q.Encode()
	}
	if h.public != nil {
		return h.public.For(route, rawQuery)
	}

	path := req.RequestContext.Path
	if path == "" {
		path = req.Path
	}
	u := "https://" + header(req.Headers, "Host") + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func routeFor(path string) string {
	switch {
	case strings.HasSuffix(path, InboundPath):
		return InboundPath
	case strings.HasSuffix(path, StatusPath):
		return StatusPath
	}
	return ""
}

func formParams(req events.APIGatewayProxyRequest) (url.Values, error) {
	body := req.Body
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}
	return url.ParseQuery(body)
}

// header looks a header up case-insensitively; API Gateway passes them
// through as sent.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func toProxyResponse(resp ingress.WebhookResponse, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: resp.Status,
		Headers: map[string]string{
			"Content-Type":    resp.ContentType,
			correlationHeader: correlationID,
		},
		Body: resp.Body,
	}
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}
