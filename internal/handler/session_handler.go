package handler

import (
	"net/http"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
)

// secure reports whether the session cookie must be cross-site capable.
func (h *Handler) secure(r *http.Request) bool {
	return h.opts.Production || r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

func (h *Handler) sessionCookie(r *http.Request, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     middleware.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.opts.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.secure(r) {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func (h *Handler) setSession(w http.ResponseWriter, r *http.Request, s service.Session) {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(h.sessions.TTL().Seconds())
	}
	http.SetCookie(w, h.sessionCookie(r, s.Token, maxAge))
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSession(w, r, s)
	writeJSON(w, http.StatusOK, loginResponse{Message: "login successful", Token: s.Token})
}

func (h *Handler) socialAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.sessions.SocialLogin(r.Context(), req.IDToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSession(w, r, s)
	writeJSON(w, http.StatusOK, loginResponse{Message: "login successful", Token: s.Token})
}

// logout clears the cookie with the attributes it was set with. There is
// no server-side session to revoke, so it always succeeds.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie(r, "", -1))
	writeJSON(w, http.StatusOK, message("logged out"))
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.reset.Forgot(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("reset email sent"))
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = req.Token
	}
	if err := h.reset.Reset(r.Context(), token, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("password updated"))
}
