// Package memory is an in-process store backend. It backs local runs and
// every service test.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]model.User
	meetings map[string]model.Meeting
	chat     map[string][]model.ChatMessage
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]model.User),
		meetings: make(map[string]model.Meeting),
		chat:     make(map[string][]model.ChatMessage),
		now:      time.Now,
	}
}

func (s *Store) Users() store.UserStore       { return users{s} }
func (s *Store) Meetings() store.MeetingStore { return meetings{s} }
func (s *Store) Chat() store.ChatStore        { return chat{s} }

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

// AddMessage appends a chat message to a meeting's transcript. The live
// chat feature writes these elsewhere; tests and local runs use this.
func (s *Store) AddMessage(meetingID string, msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.MeetingID = meetingID
	s.chat[meetingID] = append(s.chat[meetingID], msg)
}

type users struct{ s *Store }

func (u users) Get(_ context.Context, id string) (*model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	usr, ok := u.s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &usr, nil
}

func (u users) findBy(match func(model.User) bool) (*model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, usr := range u.s.users {
		if match(usr) {
			return &usr, nil
		}
	}
	return nil, common.ErrNotFound
}

func (u users) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return u.findBy(func(usr model.User) bool { return usr.Email == email })
}

func (u users) FindByResetToken(_ context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}
	return u.findBy(func(usr model.User) bool { return usr.ResetPasswordToken == token })
}

func (u users) FindByIDs(_ context.Context, ids []string) ([]model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var out []model.User
	for _, id := range ids {
		if usr, ok := u.s.users[id]; ok {
			out = append(out, usr)
		}
	}
	return out, nil
}

func (u users) Insert(_ context.Context, usr *model.User) (string, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	rec := *usr
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = u.s.now()
	}
	u.s.users[rec.ID] = rec
	return rec.ID, nil
}

func (u users) Update(_ context.Context, id string, p model.UserPatch) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	usr, ok := u.s.users[id]
	if !ok {
		return common.ErrNotFound
	}
	p.Apply(&usr)
	u.s.users[id] = usr
	return nil
}

func (u users) Delete(_ context.Context, id string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[id]; !ok {
		return common.ErrNotFound
	}
	delete(u.s.users, id)
	return nil
}

type meetings struct{ s *Store }

func clone(m model.Meeting) *model.Meeting {
	m.Participants = slices.Clone(m.Participants)
	return &m
}

func (ms meetings) Get(_ context.Context, id string) (*model.Meeting, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	m, ok := ms.s.meetings[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return clone(m), nil
}

func (ms meetings) List(context.Context) ([]model.Meeting, error) {
	ms.s.mu.RLock()
	defer ms.s.mu.RUnlock()
	out := make([]model.Meeting, 0, len(ms.s.meetings))
	for _, m := range ms.s.meetings {
		out = append(out, *clone(m))
	}
	return out, nil
}

func (ms meetings) Insert(_ context.Context, m *model.Meeting) (string, error) {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	rec := *clone(*m)
	rec.ID = uuid.NewString()
	ms.s.meetings[rec.ID] = rec
	return rec.ID, nil
}

func (ms meetings) Update(_ context.Context, id string, p model.MeetingPatch) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.meetings[id]
	if !ok {
		return common.ErrNotFound
	}
	p.Apply(&m)
	ms.s.meetings[id] = m
	return nil
}

func (ms meetings) AddParticipant(_ context.Context, id, uid string, now time.Time) (*model.Meeting, error) {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.meetings[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if !m.HasParticipant(uid) {
		m.Participants = append(slices.Clone(m.Participants), uid)
	}
	m.UpdatedAt = now
	ms.s.meetings[id] = m
	return clone(m), nil
}

func (ms meetings) Delete(_ context.Context, id string) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	if _, ok := ms.s.meetings[id]; !ok {
		return common.ErrNotFound
	}
	delete(ms.s.meetings, id)
	delete(ms.s.chat, id)
	return nil
}

type chat struct{ s *Store }

func (c chat) ListByMeeting(_ context.Context, meetingID string) ([]model.ChatMessage, error) {
	c.s.mu.RLock()
	out := slices.Clone(c.s.chat[meetingID])
	c.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
