package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
	"github.com/Voice-ly/voice.ly-backend/internal/summary"
	"github.com/Voice-ly/voice.ly-backend/internal/tasks"
)

type CreateMeetingInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateMeetingInput lists the only fields a client may change. Unknown
// body fields never reach the store.
type UpdateMeetingInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type JoinResult struct {
	ID           string   `json:"id"`
	MeetLink     string   `json:"meetLink"`
	Participants []string `json:"participants"`
}

type Meetings struct {
	meetings store.MeetingStore
	queue    tasks.Queue
	linkBase string
	log      logging.Logger
	now      func() time.Time
}

func NewMeetings(meetings store.MeetingStore, queue tasks.Queue, linkBase string, log logging.Logger) *Meetings {
	return &Meetings{
		meetings: meetings,
		queue:    queue,
		linkBase: strings.TrimRight(linkBase, "/"),
		log:      log,
		now:      time.Now,
	}
}

func (s *Meetings) Create(ctx context.Context, ownerID string, in CreateMeetingInput) (*model.Meeting, error) {
	if ownerID == "" {
		return nil, common.ErrUnauthenticated
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", common.ErrInvalidInput)
	}

	now := s.now()
	m := &model.Meeting{
		Title:        in.Title,
		Description:  in.Description,
		OwnerID:      ownerID,
		Participants: []string{ownerID},
		MeetLink:     s.linkBase + "/" + uuid.NewString(),
		Status:       model.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.meetings.Insert(ctx, m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

func (s *Meetings) Get(ctx context.Context, id string) (*model.Meeting, error) {
	return s.meetings.Get(ctx, id)
}

func (s *Meetings) List(ctx context.Context) ([]model.Meeting, error) {
	ms, err := s.meetings.List(ctx)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		ms = []model.Meeting{}
	}
	return ms, nil
}

// Join adds uid to the participants. Joining twice is a no-op apart from
// updatedAt. Meeting status is not checked.
func (s *Meetings) Join(ctx context.Context, id, uid string) (*JoinResult, error) {
	if uid == "" {
		return nil, common.ErrUnauthenticated
	}
	m, err := s.meetings.AddParticipant(ctx, id, uid, s.now())
	if err != nil {
		return nil, err
	}
	return &JoinResult{ID: m.ID, MeetLink: m.MeetLink, Participants: m.Participants}, nil
}

// owned loads id and checks uid owns it.
func (s *Meetings) owned(ctx context.Context, id, uid string) (*model.Meeting, error) {
	if uid == "" {
		return nil, common.ErrUnauthenticated
	}
	m, err := s.meetings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != uid {
		return nil, fmt.Errorf("%w: only the owner may change this meeting", common.ErrForbidden)
	}
	return m, nil
}

func (s *Meetings) Update(ctx context.Context, id, uid string, in UpdateMeetingInput) error {
	if _, err := s.owned(ctx, id, uid); err != nil {
		return err
	}

	p := model.MeetingPatch{UpdatedAt: s.now()}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return fmt.Errorf("%w: title cannot be empty", common.ErrInvalidInput)
		}
		p.Title = in.Title
	}
	if in.Description != nil {
		p.Description = in.Description
	}
	if in.Status != nil {
		st := model.Status(*in.Status)
		if !st.Valid() {
			return fmt.Errorf("%w: unknown status %q", common.ErrInvalidInput, *in.Status)
		}
		p.Status = &st
	}
	return s.meetings.Update(ctx, id, p)
}

func (s *Meetings) Delete(ctx context.Context, id, uid string) error {
	if _, err := s.owned(ctx, id, uid); err != nil {
		return err
	}
	return s.meetings.Delete(ctx, id)
}

// End marks the meeting finished and queues the summary pipeline. It
// returns as soon as the job is queued. Pipeline problems are only logged.
// Ending an already finished meeting queues the pipeline again.
func (s *Meetings) End(ctx context.Context, id, uid string) error {
	if _, err := s.owned(ctx, id, uid); err != nil {
		return err
	}
	finished := model.StatusFinished
	if err := s.meetings.Update(ctx, id, model.MeetingPatch{Status: &finished, UpdatedAt: s.now()}); err != nil {
		return err
	}

	job, err := summary.Job(id)
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		s.log.Error(ctx, "summary pipeline not queued", "meeting_id", id, "err", err)
	}
	return nil
}
