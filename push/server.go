// Package push serves inbound push deliveries from the event service.
//
// Every delivery is verified with the signature package before the handler
// runs; verification failures are rejected with a generic 403 so a probing
// sender learns nothing. When a ledger is attached, deliveries are also
// deduplicated by their delivery id: a redelivered webhook that was already
// processed is accepted and skipped instead of handled twice.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crosswire/crosswire-go/internal/events"
	"github.com/crosswire/crosswire-go/internal/log"
	"github.com/crosswire/crosswire-go/ledger"
	"github.com/crosswire/crosswire-go/signature"
)

type endpointRuntime struct {
	cfg      Endpoint
	verifier *signature.Verifier
}

// Server is the push-delivery HTTP server.
type Server struct {
	config Config
	logger *slog.Logger
	hub    *events.Hub
	ledger *ledger.Ledger
	server *http.Server

	// endpoints maps URL paths to their runtime state
	endpoints map[string]*endpointRuntime
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLedger attaches a delivery dedupe ledger.
func WithLedger(l *ledger.Ledger) ServerOption {
	return func(s *Server) {
		s.ledger = l
	}
}

// WithHub attaches a telemetry hub.
func WithHub(h *events.Hub) ServerOption {
	return func(s *Server) {
		s.hub = h
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a push server. Endpoint secrets are validated eagerly: a
// misconfigured endpoint fails here, not on its first delivery.
func New(cfg Config, endpoints []Endpoint, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("push"),
		endpoints: make(map[string]*endpointRuntime),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := range endpoints {
		ep := endpoints[i]
		if ep.Path == "" {
			return nil, fmt.Errorf("endpoint %d: path is empty", i)
		}
		if ep.Handler == nil {
			return nil, fmt.Errorf("endpoint %s: handler is nil", ep.Path)
		}
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}

		sigOpts := []signature.Option{}
		if ep.Tolerance > 0 {
			sigOpts = append(sigOpts, signature.WithTolerance(ep.Tolerance))
		}
		verifier, err := signature.New(ep.Secret, sigOpts...)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Path, err)
		}

		if _, exists := s.endpoints[ep.Path]; exists {
			return nil, fmt.Errorf("endpoint %s: duplicate path", ep.Path)
		}
		s.endpoints[ep.Path] = &endpointRuntime{cfg: ep, verifier: verifier}
	}

	return s, nil
}

// Start starts the push HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("push server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("push server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("push server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("push server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleDelivery)
	}

	return r
}

// loggingMiddleware logs requests without bodies: payloads may hold customer
// data and signatures must not end up in logs.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("push request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleDelivery handles one inbound POST delivery.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	limitedReader := io.LimitReader(r.Body, endpoint.cfg.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.cfg.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	// Verify against the exact bytes received. The generic 403 is deliberate:
	// the caller learns nothing about which check failed.
	header := r.Header.Get(HeaderSignature)
	if err := endpoint.verifier.Verify(header, string(body)); err != nil {
		s.logger.Warn("delivery rejected",
			"path", r.URL.Path,
			"code", signature.CodeOf(err),
		)
		s.publish(events.TypePushRejected, map[string]any{
			"path": r.URL.Path,
			"code": signature.CodeOf(err),
		})
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	deliveryID := r.Header.Get(HeaderDeliveryID)
	if s.ledger != nil && deliveryID != "" {
		claimed, err := s.ledger.Claim(ctx, r.URL.Path, deliveryID, body)
		if err != nil {
			s.logger.Error("ledger claim failed", "path", r.URL.Path, "delivery_id", deliveryID, "error", err)
			s.respondError(w, http.StatusInternalServerError, "delivery tracking failed")
			return
		}
		if !claimed {
			s.logger.Info("duplicate delivery skipped", "path", r.URL.Path, "delivery_id", deliveryID)
			s.publish(events.TypePushDuplicate, map[string]any{
				"path":        r.URL.Path,
				"delivery_id": deliveryID,
			})
			s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "duplicate", DeliveryID: deliveryID})
			return
		}
	}

	delivery := Delivery{
		ID:         deliveryID,
		Topic:      r.Header.Get(HeaderTopic),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}

	if err := endpoint.cfg.Handler(ctx, delivery); err != nil {
		s.logger.Error("delivery handler failed",
			"path", r.URL.Path,
			"delivery_id", deliveryID,
			"error", err,
		)
		if s.ledger != nil && deliveryID != "" {
			if ferr := s.ledger.Fail(ctx, r.URL.Path, deliveryID, err); ferr != nil {
				s.logger.Error("ledger fail transition failed", "delivery_id", deliveryID, "error", ferr)
			}
		}
		s.respondError(w, http.StatusInternalServerError, "delivery processing failed")
		return
	}

	if s.ledger != nil && deliveryID != "" {
		if err := s.ledger.Complete(ctx, r.URL.Path, deliveryID); err != nil {
			s.logger.Error("ledger complete transition failed", "delivery_id", deliveryID, "error", err)
		}
	}

	s.publish(events.TypePushDelivery, map[string]any{
		"path":        r.URL.Path,
		"delivery_id": deliveryID,
		"topic":       delivery.Topic,
	})
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "processed", DeliveryID: deliveryID})
}

func (s *Server) publish(eventType string, data any) {
	if s.hub != nil {
		s.hub.Publish(eventType, data)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
