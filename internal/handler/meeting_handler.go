package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
)

type createMeetingResponse struct {
	ID       string `json:"id"`
	MeetLink string `json:"meetLink"`
}

type joinResponse struct {
	Message      string   `json:"message"`
	MeetLink     string   `json:"meetLink"`
	Participants []string `json:"participants"`
}

func (h *Handler) createMeeting(w http.ResponseWriter, r *http.Request) {
	var in service.CreateMeetingInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.meetings.Create(r.Context(), middleware.UserID(r.Context()), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createMeetingResponse{ID: m.ID, MeetLink: m.MeetLink})
}

func (h *Handler) getMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := h.meetings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listMeetings(w http.ResponseWriter, r *http.Request) {
	ms, err := h.meetings.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) joinMeeting(w http.ResponseWriter, r *http.Request) {
	res, err := h.meetings.Join(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{Message: "joined", MeetLink: res.MeetLink, Participants: res.Participants})
}

func (h *Handler) updateMeeting(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateMeetingInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.meetings.Update(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("meeting updated"))
}

func (h *Handler) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := h.meetings.Delete(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("meeting deleted"))
}

// endMeeting answers once the meeting is finished and the summary job is
// queued; the pipeline itself runs later.
func (h *Handler) endMeeting(w http.ResponseWriter, r *http.Request) {
	if err := h.meetings.End(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("meeting ended"))
}
