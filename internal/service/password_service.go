package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/resetguard/resetguard/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt hashes without truncating.
const MaxPasswordBytes = 72

// CredentialStore is the document store holding credential records.
type CredentialStore interface {
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Credential, error)
	GetByUsername(ctx context.Context, username string) (*models.Credential, error)
	UpdateRequestID(ctx context.Context, id, requestID string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type PasswordService struct {
	store  CredentialStore
	cost   int
	logger *logrus.Logger
}

func NewPasswordService(store CredentialStore, cost int, logger *logrus.Logger) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{
		store:  store,
		cost:   cost,
		logger: logger,
	}
}

func (s *PasswordService) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Login succeeds when password matches the stored hash for username. Unknown
// users and mismatches both yield ErrInvalidCredentials. Passwords longer than
// MaxPasswordBytes never match since bcrypt ignores the bytes past the limit.
func (s *PasswordService) Login(ctx context.Context, username, password string) error {
	if len(password) > MaxPasswordBytes {
		return ErrInvalidCredentials
	}

	credential, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to look up credential: %w", err)
	}
	if credential == nil || credential.PasswordHash == "" {
		return ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		s.logger.WithError(err).WithField("username", username).Error("Stored password hash is unusable")
		return fmt.Errorf("failed to compare password: %w", err)
	}

	return nil
}
