// Package httpapi serves the carrier webhooks over plain HTTP for local and
// non-Lambda deployments.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"covertext/internal/ingress"
)

type Server struct {
	router    *chi.Mux
	webhooks  *ingress.Webhooks
	publicURL string
	public    *ingress.PublicURL
	logger    *slog.Logger
}

type Option func(*Server)

// WithPublicURL sets the base URL the webhooks are configured under with
// the carrier. Without it the URL is rebuilt from the request.
func WithPublicURL(base string) Option {
	return func(s *Server) {
		s.publicURL = base
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(svc ingress.Receiver, verifier ingress.SignatureVerifier, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("httpapi: ingress must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("httpapi: signature verifier must not be nil")
	}
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if strings.TrimSpace(s.publicURL) != "" {
		p, err := ingress.ParsePublicURL(s.publicURL)
		if err != nil {
			return nil, err
		}
		s.public = p
	}
	webhooks, err := ingress.NewWebhooks(svc, verifier, s.logger)
	if err != nil {
		return nil, err
	}
	s.webhooks = webhooks

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/webhooks/twilio", func(r chi.Router) {
		r.Post("/inbound", s.webhook(ingress.RouteInbound))
		r.Post("/status", s.webhook(ingress.RouteStatus))
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) webhook(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := chimw.GetReqID(r.Context())
		if err := r.ParseForm(); err != nil {
			writeResponse(w, s.webhooks.RejectForm(reqID, err))
			return
		}
		writeResponse(w, s.webhooks.Dispatch(r.Context(), ingress.WebhookRequest{
			Route:     route,
			SignedURL: s.signedURL(r, route),
			Params:    r.PostForm,
			Signature: r.Header.Get(ingress.SignatureHeader),
			RequestID: reqID,
		}))
	}
}

func (s *Server) signedURL(r *http.Request, route string) string {
	if s.public != nil {
		return s.public.For(route, r.URL.RawQuery)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeResponse(w http.ResponseWriter, resp ingress.WebhookResponse) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}
