// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/bitgalaxy/internal/adapters/session"
	service "github.com/okian/bitgalaxy/internal/app"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/internal/domain/progression"
	"github.com/okian/bitgalaxy/pkg/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LookupPlayer(ctx context.Context, req service.LookupRequest) (service.LookupResult, error)
	JoinPlayer(ctx context.Context, req service.JoinRequest) (service.JoinResult, error)
	GetPlayer(ctx context.Context, orgID, userID string) (service.Snapshot, error)
	StartQuest(ctx context.Context, sess *model.Session, orgID, questID string) (service.StartResult, error)
	SubmitArcadeRun(ctx context.Context, sub service.RunSubmission) (service.RunResult, error)
}

// SessionVerifier resolves a session token to the player it is bound to.
type SessionVerifier interface {
	Verify(token string) (*model.Session, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	playersHandler *PlayersHandler
	questsHandler  *QuestsHandler
	arcadeHandler  *ArcadeHandler
}

// Option configures the Server.
type Option func(*serverConfig)

type serverConfig struct {
	verifier     SessionVerifier
	cookieTTL    time.Duration
	secureCookie bool
	logger       logger.Logger
}

// WithSessionVerifier enables session-bound routes.
func WithSessionVerifier(v SessionVerifier) Option {
	return func(c *serverConfig) {
		if v != nil {
			c.verifier = v
		}
	}
}

// WithCookieTTL sets the lifetime of the session cookie.
func WithCookieTTL(ttl time.Duration) Option {
	return func(c *serverConfig) {
		if ttl > 0 {
			c.cookieTTL = ttl
		}
	}
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(c *serverConfig) {
		c.secureCookie = secure
	}
}

// WithLogger sets the logger used for unexpected failures.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{cookieTTL: 30 * 24 * time.Hour, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	w := responder{logger: cfg.logger}
	cookies := cookieJar{ttl: cfg.cookieTTL, secure: cfg.secureCookie}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		playersHandler: &PlayersHandler{deps: deps, cookies: cookies, out: w},
		questsHandler:  &QuestsHandler{deps: deps, verifier: cfg.verifier, out: w},
		arcadeHandler:  &ArcadeHandler{deps: deps, verifier: cfg.verifier, out: w},
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/players/lookup", MetricsMiddleware(s.playersHandler.HandleLookup, "players_lookup"))
	mux.HandleFunc("POST /v1/players/join", MetricsMiddleware(s.playersHandler.HandleJoin, "players_join"))
	mux.HandleFunc("GET /v1/orgs/{orgId}/players/{playerId}", MetricsMiddleware(s.playersHandler.HandleGetPlayer, "players_get"))
	mux.HandleFunc("POST /v1/quests/start", MetricsMiddleware(s.questsHandler.HandleStart, "quests_start"))
	mux.HandleFunc("POST /v1/arcade/{questId}/complete", MetricsMiddleware(s.arcadeHandler.HandleComplete, "arcade_complete"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps a service error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, progression.ErrRejected):
		return http.StatusConflict, service.RejectionCode(err)
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, ErrSessionsOff):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrSessionMismatch):
		return http.StatusForbidden, "session_mismatch"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// responder writes service errors, logging the unexpected ones.
type responder struct {
	logger logger.Logger
}

func (o responder) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status >= statusInternalError {
		o.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		if status == statusInternalError {
			// Internal details stay in the log.
			err = errors.New(http.StatusText(status))
		}
	}
	writeError(w, status, code, err)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// cookieJar issues the session cookie.
type cookieJar struct {
	ttl    time.Duration
	secure bool
}

func (c cookieJar) set(w http.ResponseWriter, token string) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionFromRequest verifies the bearer token or session cookie of r.
// It returns nil without error when the request carries neither.
func sessionFromRequest(r *http.Request, v SessionVerifier) (*model.Session, error) {
	token := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return nil, fmt.Errorf("%w: malformed authorization header", service.ErrUnauthenticated)
		}
		token = strings.TrimSpace(rest)
	} else if c, err := r.Cookie(session.CookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		return nil, nil
	}
	if v == nil {
		return nil, ErrSessionsOff
	}
	sess, err := v.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrUnauthenticated, err)
	}
	return sess, nil
}
