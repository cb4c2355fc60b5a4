package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Voice-ly/voice.ly-backend/internal/auth"
	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/mail"
	"github.com/Voice-ly/voice.ly-backend/internal/model"
	"github.com/Voice-ly/voice.ly-backend/internal/store"
)

// PasswordReset issues single-use reset tokens by email. A token stays
// valid until it is used or replaced by a newer request; there is no
// expiry.
type PasswordReset struct {
	users       store.UserStore
	mailer      mail.Sender
	frontendURL string
	log         logging.Logger
}

func NewPasswordReset(users store.UserStore, mailer mail.Sender, frontendURL string, log logging.Logger) *PasswordReset {
	return &PasswordReset{
		users:       users,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
	}
}

func (s *PasswordReset) Forgot(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", common.ErrInvalidInput)
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: user not found", common.ErrNotFound)
		}
		return err
	}
	if s.frontendURL == "" {
		return fmt.Errorf("%w: FRONTEND_URL is not set", common.ErrMisconfigured)
	}

	token, err := auth.GenerateResetToken()
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, u.ID, model.UserPatch{ResetPasswordToken: &token}); err != nil {
		return err
	}

	link := s.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	msg, err := mail.PasswordReset(u.Email, link)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "reset email not sent", "user_id", u.ID, "err", err)
		return err
	}
	s.log.Info(ctx, "reset email sent", "user_id", u.ID)
	return nil
}

// Reset sets a new password for the holder of token and consumes it.
func (s *PasswordReset) Reset(ctx context.Context, token, password string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", common.ErrInvalidInput)
	}
	u, err := s.users.FindByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: invalid or used reset token", common.ErrInvalidToken)
		}
		return err
	}
	if !auth.ValidPassword(password) {
		return fmt.Errorf("%w: %s", common.ErrInvalidInput, weakPassword)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	cleared := ""
	return s.users.Update(ctx, u.ID, model.UserPatch{PasswordHash: &hash, ResetPasswordToken: &cleared})
}
