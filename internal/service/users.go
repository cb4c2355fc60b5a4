// Package service holds the business operations behind both transports.
// Every method returns errors wrapping a common sentinel; transports map
// those to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/auth"
	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

const weakPassword = "password needs 8+ characters with upper, lower and special characters"

type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Age       int    `json:"age"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// ProfileInput is the allow-list for profile edits. Nil or empty values
// leave the field unchanged.
type ProfileInput struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Age       *int    `json:"age"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
}

type Users struct {
	users store.UserStore
	now   func() time.Time
}

func NewUsers(users store.UserStore) *Users {
	return &Users{users: users, now: time.Now}
}

func (s *Users) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.FirstName == "" || in.LastName == "" || in.Age <= 0 || in.Email == "" || in.Password == "" {
		return "", fmt.Errorf("%w: all fields are required", common.ErrInvalidInput)
	}
	if !auth.ValidEmail(in.Email) {
		return "", fmt.Errorf("%w: invalid email", common.ErrInvalidInput)
	}
	if !auth.ValidPassword(in.Password) {
		return "", fmt.Errorf("%w: %s", common.ErrInvalidInput, weakPassword)
	}
	if err := s.emailFree(ctx, in.Email); err != nil {
		return "", err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return "", err
	}
	return s.users.Insert(ctx, &model.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Age:          in.Age,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
}

// emailFree fails with InvalidInput if email is taken.
func (s *Users) emailFree(ctx context.Context, email string) error {
	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email already registered", common.ErrInvalidInput)
	case errors.Is(err, common.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (s *Users) Profile(ctx context.Context, uid string) (*model.User, error) {
	if uid == "" {
		return nil, common.ErrUnauthenticated
	}
	return s.users.Get(ctx, uid)
}

func (s *Users) UpdateProfile(ctx context.Context, uid string, in ProfileInput) error {
	if uid == "" {
		return common.ErrUnauthenticated
	}
	cur, err := s.users.Get(ctx, uid)
	if err != nil {
		return err
	}

	var p model.UserPatch
	if in.FirstName != nil && *in.FirstName != "" {
		p.FirstName = in.FirstName
	}
	if in.LastName != nil && *in.LastName != "" {
		p.LastName = in.LastName
	}
	if in.Age != nil && *in.Age != 0 {
		if *in.Age < 0 {
			return fmt.Errorf("%w: invalid age", common.ErrInvalidInput)
		}
		p.Age = in.Age
	}
	if in.Email != nil && *in.Email != "" && *in.Email != cur.Email {
		if !auth.ValidEmail(*in.Email) {
			return fmt.Errorf("%w: invalid email", common.ErrInvalidInput)
		}
		if err := s.emailFree(ctx, *in.Email); err != nil {
			return err
		}
		p.Email = in.Email
	}
	if in.Password != nil && *in.Password != "" {
		if !auth.ValidPassword(*in.Password) {
			return fmt.Errorf("%w: %s", common.ErrInvalidInput, weakPassword)
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return err
		}
		p.PasswordHash = &hash
	}
	if p.Empty() {
		return nil
	}
	return s.users.Update(ctx, uid, p)
}

// DeleteAccount removes the caller after re-checking their password.
func (s *Users) DeleteAccount(ctx context.Context, uid, password string) error {
	if uid == "" {
		return common.ErrUnauthenticated
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", common.ErrInvalidInput)
	}
	u, err := s.users.Get(ctx, uid)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return fmt.Errorf("%w: wrong password", common.ErrUnauthenticated)
	}
	return s.users.Delete(ctx, uid)
}
