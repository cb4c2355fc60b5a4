package tasks

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

type ctxKey struct{}

func TestInProcessRunsDetached(t *testing.T) {
	got := make(chan string, 1)
	q := NewInProcess(func(ctx context.Context, job Job) error {
		// the enqueuing context is already cancelled by now
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		got <- ctx.Value(ctxKey{}).(string) + ":" + job.Type
		return nil
	}, 1, 0, logging.Nop{})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	require.NoError(t, q.Enqueue(ctx, Job{Type: "t"}))
	cancel()

	select {
	case v := <-got:
		assert.Equal(t, "req-1:t", v)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, q.Close(context.Background()))
}

func TestInProcessRetries(t *testing.T) {
	var calls atomic.Int32
	q := NewInProcess(func(context.Context, Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, 3, time.Millisecond, logging.Nop{})

	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "t"}))
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestInProcessStopsAtMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	q := NewInProcess(func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("permanent")
	}, 2, time.Millisecond, logging.Nop{})

	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "t"}))
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInProcessRecoversPanic(t *testing.T) {
	var calls atomic.Int32
	q := NewInProcess(func(context.Context, Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}, 2, time.Millisecond, logging.Nop{})

	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "t"}))
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInProcessCloseRejectsAndCancels(t *testing.T) {
	started := make(chan struct{})
	q := NewInProcess(func(ctx context.Context, _ Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, 1, 0, logging.Nop{})

	require.NoError(t, q.Enqueue(context.Background(), Job{Type: "t"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Type: "t"}), ErrClosed)
}

func TestMux(t *testing.T) {
	m := NewMux()
	var seen string
	m.Handle("a", func(_ context.Context, j Job) error {
		seen = string(j.Payload)
		return nil
	})

	job, err := NewJob("a", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background(), job))
	assert.JSONEq(t, `{"k":"v"}`, seen)

	assert.Error(t, m.Run(context.Background(), Job{Type: "b"}))
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := Connect(url, logging.Nop{})
	require.NoError(t, err)
	defer nc.Close()

	got := make(chan Job, 1)
	worker := NewInProcess(func(_ context.Context, j Job) error {
		got <- j
		return nil
	}, 1, 0, logging.Nop{})
	q, err := NewNATS(nc, "test.jobs."+time.Now().Format("150405.000000"), worker, logging.Nop{})
	require.NoError(t, err)

	job, err := NewJob("meeting.ended", map[string]string{"meetingId": "m1"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), job))

	select {
	case j := <-got:
		assert.Equal(t, "meeting.ended", j.Type)
		assert.JSONEq(t, `{"meetingId":"m1"}`, string(j.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("job not delivered")
	}
	require.NoError(t, q.Close(context.Background()))
}
