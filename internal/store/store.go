// Package store declares the persistence contracts the services depend on.
// Backends live in the memory, mongo and postgres subpackages; all of them
// return common.ErrNotFound when a lookup or mutation matches no record.
package store

import (
	"context"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/model"
)

type UserStore interface {
	Get(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByResetToken(ctx context.Context, token string) (*model.User, error)
	// FindByIDs returns the users whose id is in ids. Unknown ids are skipped.
	FindByIDs(ctx context.Context, ids []string) ([]model.User, error)
	Insert(ctx context.Context, u *model.User) (string, error)
	Update(ctx context.Context, id string, p model.UserPatch) error
	Delete(ctx context.Context, id string) error
}

type MeetingStore interface {
	Get(ctx context.Context, id string) (*model.Meeting, error)
	List(ctx context.Context) ([]model.Meeting, error)
	Insert(ctx context.Context, m *model.Meeting) (string, error)
	Update(ctx context.Context, id string, p model.MeetingPatch) error
	// AddParticipant adds uid to the participant set if absent, bumps
	// updatedAt and returns the meeting as stored afterwards. It is atomic
	// per meeting.
	AddParticipant(ctx context.Context, id, uid string, now time.Time) (*model.Meeting, error)
	Delete(ctx context.Context, id string) error
}

type ChatStore interface {
	// ListByMeeting returns the transcript ordered by timestamp ascending.
	ListByMeeting(ctx context.Context, meetingID string) ([]model.ChatMessage, error)
}

// Store bundles the three contracts a backend provides.
type Store interface {
	Users() UserStore
	Meetings() MeetingStore
	Chat() ChatStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
