// Package summary runs the post-meeting pipeline: collect participant
// emails and the chat transcript, then hand both to the summarizer.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
	"github.com/Voice-ly/voice.ly-backend/internal/tasks"
)

// JobType is the queue job type for an ended meeting.
const JobType = "meeting.ended"

type jobPayload struct {
	MeetingID string `json:"meetingId"`
}

// Archiver keeps a copy of submitted payloads.
type Archiver interface {
	Put(ctx context.Context, meetingID string, body []byte) (string, error)
}

type Pipeline struct {
	meetings   store.MeetingStore
	users      store.UserStore
	chat       store.ChatStore
	summarizer Summarizer
	archive    Archiver
	log        logging.Logger
}

// NewPipeline wires the pipeline. summarizer nil means no endpoint is
// configured. archive may be nil.
func NewPipeline(st store.Store, summarizer Summarizer, archive Archiver, log logging.Logger) *Pipeline {
	return &Pipeline{
		meetings:   st.Meetings(),
		users:      st.Users(),
		chat:       st.Chat(),
		summarizer: summarizer,
		archive:    archive,
		log:        log,
	}
}

// Job builds the queue job for meetingID.
func Job(meetingID string) (tasks.Job, error) {
	return tasks.NewJob(JobType, jobPayload{MeetingID: meetingID})
}

// Handle is the tasks.Handler for JobType. A missing summarizer is logged
// and not retried.
func (p *Pipeline) Handle(ctx context.Context, job tasks.Job) error {
	var jp jobPayload
	if err := json.Unmarshal(job.Payload, &jp); err != nil || jp.MeetingID == "" {
		p.log.Error(ctx, "summary job without meeting id", "payload", string(job.Payload))
		return nil
	}
	err := p.Run(ctx, jp.MeetingID)
	if errors.Is(err, common.ErrMisconfigured) || errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, meetingID, step string, err error) error {
	p.log.Error(ctx, "summary pipeline failed", "meeting_id", meetingID, "step", step, "err", err)
	return fmt.Errorf("%s: %w", step, err)
}

// Run executes every step for one meeting. The first failing step aborts
// the run; nothing is written back to the meeting.
func (p *Pipeline) Run(ctx context.Context, meetingID string) error {
	if p.summarizer == nil {
		return p.fail(ctx, meetingID, "config",
			fmt.Errorf("%w: SUMMARY_SERVICE_URL is not set", common.ErrMisconfigured))
	}

	m, err := p.meetings.Get(ctx, meetingID)
	if err != nil {
		return p.fail(ctx, meetingID, "load meeting", err)
	}

	users, err := p.users.FindByIDs(ctx, m.Participants)
	if err != nil {
		return p.fail(ctx, meetingID, "resolve participants", err)
	}
	participants := make([]Participant, 0, len(users))
	for _, u := range users {
		if strings.Contains(u.Email, "@") {
			participants = append(participants, Participant{Email: u.Email})
		}
	}

	history, err := p.chat.ListByMeeting(ctx, meetingID)
	if err != nil {
		return p.fail(ctx, meetingID, "load transcript", err)
	}

	payload := Payload{MeetingID: meetingID, Participants: participants, ChatHistory: history}
	if payload.ChatHistory == nil {
		payload.ChatHistory = []model.ChatMessage{}
	}

	if p.archive != nil {
		body, err := json.Marshal(payload)
		if err == nil {
			var key string
			key, err = p.archive.Put(ctx, meetingID, body)
			if err == nil {
				p.log.Debug(ctx, "summary payload archived", "meeting_id", meetingID, "key", key)
			}
		}
		if err != nil {
			// the archive is a side copy; it never blocks the summary
			p.log.Warn(ctx, "summary payload not archived", "meeting_id", meetingID, "err", err)
		}
	}

	if err := p.summarizer.Submit(ctx, payload); err != nil {
		return p.fail(ctx, meetingID, "submit", err)
	}
	p.log.Info(ctx, "summary submitted", "meeting_id", meetingID,
		"participants", len(participants), "messages", len(history))
	return nil
}
