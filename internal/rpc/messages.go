package rpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/Voice-ly/voice.ly-backend/internal/model"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string                 `json:"token"`
	UserID    string                 `json:"userId"`
	ExpiresAt *timestamppb.Timestamp `json:"expiresAt"`
}

type CreateMeetingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CreateMeetingResponse struct {
	ID       string `json:"id"`
	MeetLink string `json:"meetLink"`
}

// MeetingRequest addresses one meeting by id.
type MeetingRequest struct {
	ID string `json:"id"`
}

type ListMeetingsRequest struct{}

type ListMeetingsResponse struct {
	Meetings []*Meeting `json:"meetings"`
}

type JoinMeetingResponse struct {
	MeetLink     string   `json:"meetLink"`
	Participants []string `json:"participants"`
}

// UpdateMeetingRequest leaves nil fields unchanged.
type UpdateMeetingRequest struct {
	ID          string  `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type Empty struct{}

type Meeting struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	OwnerID      string                 `json:"ownerId"`
	Participants []string               `json:"participants"`
	MeetLink     string                 `json:"meetLink"`
	Status       string                 `json:"status"`
	CreatedAt    *timestamppb.Timestamp `json:"createdAt"`
	UpdatedAt    *timestamppb.Timestamp `json:"updatedAt"`
}

func toMeeting(m *model.Meeting) *Meeting {
	return &Meeting{
		ID:           m.ID,
		Title:        m.Title,
		Description:  m.Description,
		OwnerID:      m.OwnerID,
		Participants: m.Participants,
		MeetLink:     m.MeetLink,
		Status:       string(m.Status),
		CreatedAt:    timestamppb.New(m.CreatedAt),
		UpdatedAt:    timestamppb.New(m.UpdatedAt),
	}
}
