package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/auth"
	"yaw/api/internal/session"
	"yaw/api/internal/store"
)

// Question is one of a user's secret questions. ID is the slot number
// (1, 2 or 3), not the catalog id.
type Question struct {
	ID   int
	Text string
}

// SelectQuestion picks one of the user's three secret questions uniformly at
// random. It does not change any state.
func (s *Service) SelectQuestion(ctx context.Context, email string) (Question, error) {
	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return Question{}, err
	}

	questions := make([]Question, 0, secretSlots)
	for i, slot := range user.Secrets {
		if slot.Question == "" {
			return Question{}, fmt.Errorf("%w: user %s references missing secret question %d", ErrDataIntegrity, user.ID, slot.QuestionID)
		}
		questions = append(questions, Question{ID: i + 1, Text: slot.Question})
	}
	return questions[s.intn(len(questions))], nil
}

// VerifyResult is the outcome of an answer check. ResetToken is only set on
// a match.
type VerifyResult struct {
	Match      bool
	ResetToken string
	ExpiresAt  time.Time
}

// VerifyAnswer checks answer against the digest in slot questionID. A match
// yields a single-use reset token bound to the user.
func (s *Service) VerifyAnswer(ctx context.Context, email string, questionID int, answer string) (VerifyResult, error) {
	user, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return VerifyResult{}, err
	}
	if questionID < 1 || questionID > secretSlots {
		return VerifyResult{}, fmt.Errorf("%w: invalid question ID", ErrInvalidInput)
	}
	digest := user.Secrets[questionID-1].AnswerHash
	if digest == "" {
		return VerifyResult{}, fmt.Errorf("%w: no secret answer stored for question %d", ErrInvalidInput, questionID)
	}

	if !s.hasher.Verify(answer, digest) {
		s.logger.Info("secret answer mismatch", zap.String("user_id", user.ID), zap.Int("question_id", questionID))
		return VerifyResult{Match: false}, nil
	}

	claims := auth.NewClaims(user.ID, auth.PurposePasswordReset)
	claims.Email = user.Email
	token, issued, err := s.signer.Issue(claims, s.resetTTL)
	if err != nil {
		return VerifyResult{}, err
	}
	grant := session.ResetGrant{UserID: user.ID, Email: user.Email, IssuedAt: s.now().UTC()}
	if err := s.grants.SaveResetGrant(ctx, issued.JTI(), grant, issued.Expiry()); err != nil {
		return VerifyResult{}, fmt.Errorf("save reset grant: %w", err)
	}

	return VerifyResult{Match: true, ResetToken: token, ExpiresAt: issued.Expiry()}, nil
}

// ResetPassword sets a new password for email. resetToken must come from a
// successful VerifyAnswer for the same user and is consumed on use.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword, resetToken string) error {
	email = NormalizeEmail(email)
	if email == "" || newPassword == "" {
		return fmt.Errorf("%w: email and new password are required", ErrInvalidInput)
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	if strings.TrimSpace(resetToken) == "" {
		return fmt.Errorf("%w: reset token is required", ErrUnauthorized)
	}

	claims, err := s.signer.Parse(resetToken, auth.PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Email != email {
		return fmt.Errorf("%w: reset token was issued for another account", ErrUnauthorized)
	}
	// Hash before the grant is spent so a hashing failure leaves the token
	// usable.
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	grant, err := s.grants.ConsumeResetGrant(ctx, claims.JTI())
	if errors.Is(err, session.ErrGrantNotFound) {
		return fmt.Errorf("%w: reset token already used or expired", ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("consume reset grant: %w", err)
	}
	if grant.UserID != claims.UserID() {
		return fmt.Errorf("%w: reset grant does not match token", ErrUnauthorized)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := s.storePassword(ctx, user, digest); err != nil {
		return err
	}

	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}
