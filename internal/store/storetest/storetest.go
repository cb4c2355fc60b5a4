// Package storetest is a behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

// Run exercises users and meetings against st. missingID must be an id
// syntactically valid for the backend that no record uses.
func Run(t *testing.T, st store.Store, missingID string) {
	t.Run("users", func(t *testing.T) { testUsers(t, st.Users(), missingID) })
	t.Run("meetings", func(t *testing.T) { testMeetings(t, st.Meetings(), missingID) })
	t.Run("concurrent join", func(t *testing.T) { testConcurrentJoin(t, st.Meetings()) })
}

func ptr[T any](v T) *T { return &v }

func testUsers(t *testing.T, us store.UserStore, missingID string) {
	ctx := context.Background()
	email := "store-" + time.Now().Format("150405.000000") + "@t.com"

	id, err := us.Insert(ctx, &model.User{
		FirstName: "Ana", LastName: "Ruiz", Age: 30,
		Email: email, PasswordHash: "h", CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := us.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Ana", got.FirstName)
	assert.Equal(t, 30, got.Age)
	assert.Equal(t, "h", got.PasswordHash)

	got, err = us.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = us.FindByEmail(ctx, "nobody-"+email)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	require.NoError(t, us.Update(ctx, id, model.UserPatch{ResetPasswordToken: ptr("tok-" + id)}))
	got, err = us.FindByResetToken(ctx, "tok-"+id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	require.NoError(t, us.Update(ctx, id, model.UserPatch{PasswordHash: ptr("h2"), ResetPasswordToken: ptr("")}))
	_, err = us.FindByResetToken(ctx, "tok-"+id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	got, err = us.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, "Ruiz", got.LastName)

	found, err := us.FindByIDs(ctx, []string{id, missingID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, email, found[0].Email)

	assert.True(t, errors.Is(us.Update(ctx, missingID, model.UserPatch{Age: ptr(1)}), common.ErrNotFound))

	require.NoError(t, us.Delete(ctx, id))
	_, err = us.Get(ctx, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.True(t, errors.Is(us.Delete(ctx, id), common.ErrNotFound))
}

func newMeeting(owner string) *model.Meeting {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Meeting{
		Title:        "Standup",
		OwnerID:      owner,
		Participants: []string{owner},
		MeetLink:     "https://meet.example.com/" + owner,
		Status:       model.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testMeetings(t *testing.T, ms store.MeetingStore, missingID string) {
	ctx := context.Background()

	id, err := ms.Insert(ctx, newMeeting("owner-1"))
	require.NoError(t, err)

	got, err := ms.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, []string{"owner-1"}, got.Participants)
	assert.Equal(t, model.StatusScheduled, got.Status)

	later := got.UpdatedAt.Add(time.Minute)
	m, err := ms.AddParticipant(ctx, id, "user-2", later)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner-1", "user-2"}, m.Participants)

	m, err = ms.AddParticipant(ctx, id, "user-2", later)
	require.NoError(t, err)
	assert.Len(t, m.Participants, 2)
	assert.True(t, m.UpdatedAt.Equal(later))

	_, err = ms.AddParticipant(ctx, missingID, "user-2", later)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	finished := model.StatusFinished
	require.NoError(t, ms.Update(ctx, id, model.MeetingPatch{Status: &finished, UpdatedAt: later}))
	got, err = ms.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, "owner-1", got.OwnerID)

	all, err := ms.List(ctx)
	require.NoError(t, err)
	var seen bool
	for _, x := range all {
		seen = seen || x.ID == id
	}
	assert.True(t, seen)

	assert.True(t, errors.Is(ms.Update(ctx, missingID, model.MeetingPatch{UpdatedAt: later}), common.ErrNotFound))

	require.NoError(t, ms.Delete(ctx, id))
	_, err = ms.Get(ctx, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.True(t, errors.Is(ms.Delete(ctx, id), common.ErrNotFound))
}

func testConcurrentJoin(t *testing.T, ms store.MeetingStore) {
	ctx := context.Background()
	id, err := ms.Insert(ctx, newMeeting("owner-c"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Delete(ctx, id) })

	users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ms.AddParticipant(ctx, id, u, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := ms.Get(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, append([]string{"owner-c"}, users...), got.Participants)
}
