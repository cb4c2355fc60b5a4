package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/auth"
	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

const defaultFirstName = "Sin Nombre"

// IdentityVerifier checks an ID token issued by an external identity
// provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.Identity, error)
}

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

type Sessions struct {
	users    store.UserStore
	issuer   *auth.Issuer
	verifier IdentityVerifier
	log      logging.Logger
	now      func() time.Time
}

func NewSessions(users store.UserStore, issuer *auth.Issuer, verifier IdentityVerifier, log logging.Logger) *Sessions {
	return &Sessions{users: users, issuer: issuer, verifier: verifier, log: log, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (s *Sessions) TTL() time.Duration { return s.issuer.TTL() }

func (s *Sessions) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", common.ErrInvalidInput)
	}

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return Session{}, fmt.Errorf("%w: invalid credentials", common.ErrUnauthenticated)
	}
	if err != nil {
		return Session{}, err
	}
	if u.PasswordHash == "" || !auth.CheckPassword(u.PasswordHash, password) {
		return Session{}, fmt.Errorf("%w: invalid credentials", common.ErrUnauthenticated)
	}
	return s.issue(u)
}

// SocialLogin signs in with a federated ID token, creating the local user
// on first sight.
func (s *Sessions) SocialLogin(ctx context.Context, idToken string) (Session, error) {
	if s.verifier == nil {
		return Session{}, fmt.Errorf("%w: federated login is not configured", common.ErrMisconfigured)
	}
	id, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return Session{}, err
	}

	u, err := s.users.FindByEmail(ctx, id.Email)
	if errors.Is(err, common.ErrNotFound) {
		u, err = s.createFederated(ctx, id)
		if errors.Is(err, common.ErrInvalidInput) {
			// a concurrent first login for the same email inserted it first
			u, err = s.users.FindByEmail(ctx, id.Email)
		}
	}
	if err != nil {
		return Session{}, err
	}
	return s.issue(u)
}

func (s *Sessions) createFederated(ctx context.Context, id auth.Identity) (*model.User, error) {
	pw, err := auth.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(pw)
	if err != nil {
		return nil, err
	}
	name := id.Name
	if name == "" {
		name = defaultFirstName
	}
	u := &model.User{
		FirstName:    name,
		Email:        id.Email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	uid, err := s.users.Insert(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = uid
	s.log.Info(ctx, "federated user created", "user_id", uid)
	return u, nil
}

func (s *Sessions) issue(u *model.User) (Session, error) {
	tok, exp, err := s.issuer.Issue(u.ID, u.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: tok, UserID: u.ID, ExpiresAt: exp}, nil
}

// Authenticate resolves a raw session token to the caller's user id.
func (s *Sessions) Authenticate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: no token provided", common.ErrUnauthenticated)
	}
	c, err := s.issuer.Parse(raw)
	if errors.Is(err, common.ErrMisconfigured) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("%w: invalid or expired token", common.ErrUnauthenticated)
	}
	return c.UserID, nil
}
