// Package tasks runs work detached from the request that triggered it.
//
// A Queue accepts Jobs and hands them to a Handler on a background
// goroutine. Each attempt runs inside its own error boundary: a panic is
// recovered and counted as a failed attempt. Jobs outlive the request
// context that enqueued them but stop when the queue is closed past its
// drain deadline.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

var ErrClosed = errors.New("queue closed")

type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewJob encodes payload as JSON.
func NewJob(typ string, payload any) (Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{Type: typ, Payload: b}, nil
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Close stops accepting jobs and waits for in-flight ones until ctx is
	// done, then cancels them.
	Close(ctx context.Context) error
}

// Mux routes jobs to handlers by type.
type Mux struct {
	handlers map[string]Handler
}

func NewMux() *Mux { return &Mux{handlers: make(map[string]Handler)} }

func (m *Mux) Handle(typ string, h Handler) { m.handlers[typ] = h }

func (m *Mux) Run(ctx context.Context, job Job) error {
	h, ok := m.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}

type InProcess struct {
	handler     Handler
	maxAttempts int
	backoff     time.Duration
	log         logging.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Queue = (*InProcess)(nil)

func NewInProcess(h Handler, maxAttempts int, backoff time.Duration, log logging.Logger) *InProcess {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &InProcess{
		handler:     h,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log,
		base:        base,
		cancel:      cancel,
	}
}

func (q *InProcess) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	// keep request values for logging, drop its cancellation
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(q.base, cancel)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()
		defer stop()
		q.run(jobCtx, job)
	}()
	return nil
}

func (q *InProcess) run(ctx context.Context, job Job) {
	log := q.log.With("job_type", job.Type)
	for attempt := 1; ; attempt++ {
		err := q.attempt(ctx, job)
		if err == nil {
			log.Debug(ctx, "job done", "attempt", attempt)
			return
		}
		if attempt >= q.maxAttempts || ctx.Err() != nil {
			log.Error(ctx, "job failed", "attempt", attempt, "err", err)
			return
		}
		log.Warn(ctx, "job attempt failed, retrying", "attempt", attempt, "err", err)

		t := time.NewTimer(q.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			log.Error(ctx, "job abandoned", "attempt", attempt, "err", ctx.Err())
			return
		case <-t.C:
		}
	}
}

func (q *InProcess) attempt(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *InProcess) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
