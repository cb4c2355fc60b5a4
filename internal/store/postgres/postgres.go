// Package postgres is the relational store backend on pgxpool. The schema is
// managed by goose with migrations embedded in the binary.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
	"github.com/Voice-ly/voice.ly-backend/internal/store/postgres/migrations"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects and pings. It does not migrate; call Migrate for that.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// gooseUp is a seam for tests.
var gooseUp = goose.UpContext

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	// connections stay owned by the pool
	db := stdlib.OpenDBFromPool(s.pool)

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Users() store.UserStore       { return users{s.pool} }
func (s *Store) Meetings() store.MeetingStore { return meetings{s.pool} }
func (s *Store) Chat() store.ChatStore        { return chat{s.pool} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// AddMessage stores one chat message for meetingID.
func (s *Store) AddMessage(ctx context.Context, meetingID string, msg model.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, meeting_id, sender_id, username, message, ts)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, meetingID, msg.SenderID, msg.Username, msg.Message, msg.Timestamp,
	)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	return err
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: email already registered", common.ErrInvalidInput)
	}
	return err
}

const userCols = `id, first_name, last_name, age, email, password_hash,
	COALESCE(reset_password_token, ''), created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Age, &u.Email,
		&u.PasswordHash, &u.ResetPasswordToken, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

type users struct{ pool *pgxpool.Pool }

func (us users) Get(ctx context.Context, id string) (*model.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (us users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (us users) FindByResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}
	return scanUser(us.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE reset_password_token = $1`, token))
}

func (us users) FindByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := us.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (us users) Insert(ctx context.Context, u *model.User) (string, error) {
	id := uuid.NewString()
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var token *string
	if u.ResetPasswordToken != "" {
		token = &u.ResetPasswordToken
	}
	_, err := us.pool.Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, age, email, password_hash, reset_password_token, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, u.FirstName, u.LastName, u.Age, u.Email, u.PasswordHash, token, created,
	)
	if err != nil {
		return "", uniqueViolation(err)
	}
	return id, nil
}

// setClause accumulates "col = $n" pairs for a dynamic UPDATE.
type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(col string, v any) {
	c.args = append(c.args, v)
	c.cols = append(c.cols, fmt.Sprintf("%s = $%d", col, len(c.args)))
}

func (c *setClause) sql(table, id string) (string, []any) {
	args := append(c.args, id)
	return fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`,
		table, strings.Join(c.cols, ", "), len(args)), args
}

func (us users) Update(ctx context.Context, id string, p model.UserPatch) error {
	var c setClause
	if p.FirstName != nil {
		c.add("first_name", *p.FirstName)
	}
	if p.LastName != nil {
		c.add("last_name", *p.LastName)
	}
	if p.Age != nil {
		c.add("age", *p.Age)
	}
	if p.Email != nil {
		c.add("email", *p.Email)
	}
	if p.PasswordHash != nil {
		c.add("password_hash", *p.PasswordHash)
	}
	if p.ResetPasswordToken != nil {
		var v *string
		if *p.ResetPasswordToken != "" {
			v = p.ResetPasswordToken
		}
		c.add("reset_password_token", v)
	}
	if len(c.cols) == 0 {
		_, err := us.Get(ctx, id)
		return err
	}

	q, args := c.sql("users", id)
	tag, err := us.pool.Exec(ctx, q, args...)
	if err != nil {
		return uniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (us users) Delete(ctx context.Context, id string) error {
	tag, err := us.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

const meetingSelect = `
	SELECT m.id, m.title, m.description, m.owner_id, m.meet_link, m.status,
	       m.created_at, m.updated_at,
	       COALESCE(array_agg(p.user_id ORDER BY p.seq) FILTER (WHERE p.user_id IS NOT NULL), '{}')
	FROM meetings m
	LEFT JOIN meeting_participants p ON p.meeting_id = m.id`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getMeeting(ctx context.Context, q querier, id string) (*model.Meeting, error) {
	m := &model.Meeting{}
	var status string
	err := q.QueryRow(ctx, meetingSelect+` WHERE m.id = $1 GROUP BY m.id`, id).Scan(
		&m.ID, &m.Title, &m.Description, &m.OwnerID, &m.MeetLink, &status,
		&m.CreatedAt, &m.UpdatedAt, &m.Participants,
	)
	if err != nil {
		return nil, notFound(err)
	}
	m.Status = model.Status(status)
	return m, nil
}

type meetings struct{ pool *pgxpool.Pool }

func (ms meetings) Get(ctx context.Context, id string) (*model.Meeting, error) {
	return getMeeting(ctx, ms.pool, id)
}

func (ms meetings) List(ctx context.Context) ([]model.Meeting, error) {
	rows, err := ms.pool.Query(ctx, meetingSelect+` GROUP BY m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Meeting
	for rows.Next() {
		var m model.Meeting
		var status string
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Description, &m.OwnerID, &m.MeetLink, &status,
			&m.CreatedAt, &m.UpdatedAt, &m.Participants,
		); err != nil {
			return nil, err
		}
		m.Status = model.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ms meetings) Insert(ctx context.Context, m *model.Meeting) (string, error) {
	tx, err := ms.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	id := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO meetings (id, title, description, owner_id, meet_link, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, m.Title, m.Description, m.OwnerID, m.MeetLink, string(m.Status), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return "", err
	}

	for _, uid := range m.Participants {
		_, err = tx.Exec(ctx,
			`INSERT INTO meeting_participants (meeting_id, user_id) VALUES ($1,$2)
			 ON CONFLICT DO NOTHING`,
			id, uid,
		)
		if err != nil {
			return "", err
		}
	}

	return id, tx.Commit(ctx)
}

func (ms meetings) Update(ctx context.Context, id string, p model.MeetingPatch) error {
	var c setClause
	if p.Title != nil {
		c.add("title", *p.Title)
	}
	if p.Description != nil {
		c.add("description", *p.Description)
	}
	if p.Status != nil {
		c.add("status", string(*p.Status))
	}
	c.add("updated_at", p.UpdatedAt)

	q, args := c.sql("meetings", id)
	tag, err := ms.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (ms meetings) AddParticipant(ctx context.Context, id, uid string, now time.Time) (*model.Meeting, error) {
	tx, err := ms.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// the row lock serialises concurrent joins on one meeting
	tag, err := tx.Exec(ctx, `UPDATE meetings SET updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, common.ErrNotFound
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO meeting_participants (meeting_id, user_id) VALUES ($1,$2)
		 ON CONFLICT DO NOTHING`,
		id, uid,
	)
	if err != nil {
		return nil, err
	}
	m, err := getMeeting(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return m, tx.Commit(ctx)
}

func (ms meetings) Delete(ctx context.Context, id string) error {
	tag, err := ms.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

type chat struct{ pool *pgxpool.Pool }

func (c chat) ListByMeeting(ctx context.Context, meetingID string) ([]model.ChatMessage, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, meeting_id, sender_id, username, message, ts
		 FROM chat_messages WHERE meeting_id = $1 ORDER BY ts`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.SenderID, &m.Username, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
