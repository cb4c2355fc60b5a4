package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, New(), "does-not-exist")
}

func TestChatOrderedByTimestamp(t *testing.T) {
	s := New()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s.AddMessage("m1", model.ChatMessage{SenderID: "u2", Message: "second", Timestamp: base.Add(time.Minute)})
	s.AddMessage("m1", model.ChatMessage{SenderID: "u1", Message: "first", Timestamp: base})
	s.AddMessage("m2", model.ChatMessage{SenderID: "u1", Message: "other", Timestamp: base})

	msgs, err := s.Chat().ListByMeeting(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, "second", msgs[1].Message)
	assert.NotEmpty(t, msgs[0].ID)

	msgs, err = s.Chat().ListByMeeting(context.Background(), "none")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReturnedMeetingIsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Meetings().Insert(ctx, &model.Meeting{Title: "x", OwnerID: "o", Participants: []string{"o"}})
	require.NoError(t, err)

	m, err := s.Meetings().Get(ctx, id)
	require.NoError(t, err)
	m.Participants[0] = "mutated"

	m, err = s.Meetings().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"o"}, m.Participants)
}
