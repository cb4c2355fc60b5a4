package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

const workerGroup = "voicely-workers"

// Connect dials NATS with reconnect handling that logs instead of failing.
func Connect(url string, log logging.Logger) (*nats.Conn, error) {
	ctx := context.Background()
	return nats.Connect(url,
		nats.Name("voicely-backend"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn(ctx, "nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info(ctx, "nats reconnected")
		}),
		nats.DrainTimeout(10*time.Second),
	)
}

// NATS publishes jobs on a subject and consumes them in a queue group, so
// any replica may run a job enqueued by another. Consumed jobs run on an
// InProcess queue with its retry and panic handling.
type NATS struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
	worker  *InProcess
	log     logging.Logger
}

var _ Queue = (*NATS)(nil)

func NewNATS(nc *nats.Conn, subject string, worker *InProcess, log logging.Logger) (*NATS, error) {
	q := &NATS{nc: nc, subject: subject, worker: worker, log: log}
	sub, err := nc.QueueSubscribe(subject, workerGroup, q.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	q.sub = sub
	if err := nc.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return q, nil
}

func (q *NATS) receive(m *nats.Msg) {
	ctx := context.Background()
	var job Job
	if err := json.Unmarshal(m.Data, &job); err != nil {
		q.log.Error(ctx, "drop malformed job", "subject", m.Subject, "err", err)
		return
	}
	if err := q.worker.Enqueue(ctx, job); err != nil {
		q.log.Error(ctx, "job not started", "job_type", job.Type, "err", err)
	}
}

func (q *NATS) Enqueue(_ context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.nc.Publish(q.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", q.subject, err)
	}
	return nil
}

func (q *NATS) Close(ctx context.Context) error {
	if err := q.sub.Drain(); err != nil {
		q.log.Warn(ctx, "nats drain", "err", err)
	}
	return q.worker.Close(ctx)
}
