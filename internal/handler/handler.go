// Package handler is the HTTP surface of the service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	CookieDomain   string
	Production     bool // cookies are always Secure when set
	AllowedOrigins []string
	// Limiter guards the unauthenticated credential routes. Nil disables it.
	Limiter middleware.Limiter
	// TrustedProxies may report the client address to Limiter. Nil trusts none.
	TrustedProxies *middleware.Proxies
}

type Handler struct {
	users    *service.Users
	sessions *service.Sessions
	reset    *service.PasswordReset
	meetings *service.Meetings
	health   Pinger
	opts     Options
	origins  map[string]bool
	log      logging.Logger
}

func New(users *service.Users, sessions *service.Sessions, reset *service.PasswordReset,
	meetings *service.Meetings, health Pinger, opts Options, log logging.Logger) *Handler {
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	return &Handler{
		users:    users,
		sessions: sessions,
		reset:    reset,
		meetings: meetings,
		health:   health,
		opts:     opts,
		origins:  origins,
		log:      log,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLog(h.log))
	r.Use(chimw.Recoverer)
	r.Use(h.cors)

	r.Get("/healthz", h.healthz)

	r.Group(func(r chi.Router) {
		if h.opts.Limiter != nil {
			r.Use(middleware.RateLimit(h.opts.Limiter, h.opts.TrustedProxies, h.log))
		}
		r.Post("/login", h.login)
		r.Post("/social-auth", h.socialAuth)
		r.Post("/socialAuth", h.socialAuth)
		r.Post("/forgot-password", h.forgotPassword)
	})
	r.Post("/reset-password", h.resetPassword)
	r.Post("/logout", h.logout)
	r.Post("/users", h.register)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser(h.sessions, h.writeError))

		r.Get("/users/profile", h.profile)
		r.Put("/users/profile", h.updateProfile)
		r.Delete("/users/profile", h.deleteAccount)

		r.Route("/meetings", func(r chi.Router) {
			r.Post("/", h.createMeeting)
			r.Get("/", h.listMeetings)
			r.Get("/{id}", h.getMeeting)
			r.Put("/{id}", h.updateMeeting)
			r.Delete("/{id}", h.deleteMeeting)
			r.Post("/{id}/join", h.joinMeeting)
			r.Post("/{id}/end", h.endMeeting)
		})
	})
	return r
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (h.origins[origin] || h.origins["*"]) {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Credentials", "true")
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			hdr.Set("Access-Control-Max-Age", "86400")
			hdr.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Ping(r.Context()); err != nil {
		h.log.Error(r.Context(), "health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, message("store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, message("ok"))
}

type messageBody struct {
	Message string `json:"message"`
}

func message(m string) messageBody { return messageBody{Message: m} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxBody = 1 << 20

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body", common.ErrInvalidInput)
	}
	return nil
}

// statusOf maps the service error taxonomy onto HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrMisconfigured):
		return http.StatusInternalServerError
	}
	return 0
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == 0 {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, message(common.ErrInternal.Error()))
		return
	}
	if errors.Is(err, common.ErrMisconfigured) {
		h.log.Error(r.Context(), "server misconfigured", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, message(err.Error()))
}
