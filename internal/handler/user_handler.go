package handler

import (
	"net/http"

	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
)

type idResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.users.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{Message: "user created", ID: id})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Profile(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.users.UpdateProfile(r.Context(), middleware.UserID(r.Context()), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("profile updated"))
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.users.DeleteAccount(r.Context(), middleware.UserID(r.Context()), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	http.SetCookie(w, h.sessionCookie(r, "", -1))
	writeJSON(w, http.StatusOK, message("account deleted"))
}
