package model

import (
	"slices"
	"time"
)

type User struct {
	ID                 string    `json:"id"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	Age                int       `json:"age"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	ResetPasswordToken string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
}

// UserPatch carries the user fields a single update may change. Nil means
// leave the field alone; a non-nil empty ResetPasswordToken clears it.
type UserPatch struct {
	FirstName          *string
	LastName           *string
	Age                *int
	Email              *string
	PasswordHash       *string
	ResetPasswordToken *string
}

func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Age == nil &&
		p.Email == nil && p.PasswordHash == nil && p.ResetPasswordToken == nil
}

// Apply merges p into u.
func (p UserPatch) Apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.ResetPasswordToken != nil {
		u.ResetPasswordToken = *p.ResetPasswordToken
	}
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOngoing   Status = "ongoing"
	StatusCancelled Status = "cancelled"
	StatusFinished  Status = "finished"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusOngoing, StatusCancelled, StatusFinished:
		return true
	}
	return false
}

type Meeting struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	OwnerID      string    `json:"ownerId"`
	Participants []string  `json:"participants"`
	MeetLink     string    `json:"meetLink"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether uid already joined.
func (m *Meeting) HasParticipant(uid string) bool {
	return slices.Contains(m.Participants, uid)
}

// MeetingPatch is the allow-list of client-writable meeting fields.
// UpdatedAt is always written.
type MeetingPatch struct {
	Title       *string
	Description *string
	Status      *Status
	UpdatedAt   time.Time
}

// Apply merges p into m.
func (p MeetingPatch) Apply(m *Meeting) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	m.UpdatedAt = p.UpdatedAt
}

type ChatMessage struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"-"`
	SenderID  string    `json:"senderId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
