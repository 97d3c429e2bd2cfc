package service

import (
	"context"
	"fmt"
	"time"

	"github.com/resetguard/resetguard/internal/config"
	"github.com/resetguard/resetguard/internal/models"
	"github.com/sirupsen/logrus"
)

// Outcome is the business result of checking a code.
type Outcome int

const (
	OutcomeInvalidCode Outcome = iota
	OutcomeSuccess
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "invalid_code"
}

type VerificationProvider interface {
	StartVerification(ctx context.Context, phoneNumber, brand string) (string, error)
	CheckCode(ctx context.Context, requestID, code string) (string, error)
}

type RequestStateStore interface {
	Save(ctx context.Context, request *models.VerificationRequest) error
	Get(ctx context.Context, requestID string) (*models.VerificationRequest, error)
	RecordFailedAttempt(ctx context.Context, request *models.VerificationRequest) error
	MarkCompleted(ctx context.Context, request *models.VerificationRequest) error
}

type SimSwapChecker interface {
	CheckSim(ctx context.Context, phoneNumber string) (*models.SimSwapResult, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
}

// OTPService issues SMS codes tied to a credential record and validates them
// before replacing the credential's password.
type OTPService struct {
	provider    VerificationProvider
	credentials CredentialStore
	requests    RequestStateStore
	hasher      PasswordHasher
	simSwap     SimSwapChecker
	cfg         *config.VerifyConfig
	now         func() time.Time
	logger      *logrus.Logger
}

// NewOTPService wires the coordinator. simSwap is only consulted when
// cfg.RequireSimCheck is set and may be nil otherwise.
func NewOTPService(
	provider VerificationProvider,
	credentials CredentialStore,
	requests RequestStateStore,
	hasher PasswordHasher,
	simSwap SimSwapChecker,
	cfg *config.VerifyConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		provider:    provider,
		credentials: credentials,
		requests:    requests,
		hasher:      hasher,
		simSwap:     simSwap,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// TargetPhone returns the configured recipient override when set, otherwise
// the number supplied by the caller.
func (s *OTPService) TargetPhone(requested string) string {
	if s.cfg.RecipientNumber != "" {
		return s.cfg.RecipientNumber
	}
	return requested
}

// Issue sends a code to phoneNumber and records the resulting request id on
// the matching credential. The credential must already exist.
func (s *OTPService) Issue(ctx context.Context, phoneNumber string) (*models.VerificationRequest, error) {
	log := s.logger.WithField("phone", phoneNumber)

	credential, err := s.credentials.GetByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if credential == nil {
		log.Warn("No credential registered for phone number")
		return nil, fmt.Errorf("%w: %w", ErrVerification, ErrCredentialNotFound)
	}

	requestID, err := s.provider.StartVerification(ctx, phoneNumber, s.cfg.Brand)
	if err != nil {
		log.WithError(err).Error("Failed to start verification")
		return nil, fmt.Errorf("%w: start verification: %w", ErrVerification, err)
	}
	log = log.WithField("request_id", requestID)
	log.Info("Verification code sent")

	now := s.now()
	request := &models.VerificationRequest{
		RequestID:   requestID,
		PhoneNumber: phoneNumber,
		Brand:       s.cfg.Brand,
		Status:      models.VerificationPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RequestExpiry),
	}

	if err := s.requests.Save(ctx, request); err != nil {
		log.WithError(err).Error("Failed to save verification request")
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	if err := s.credentials.UpdateRequestID(ctx, credential.ID, requestID); err != nil {
		log.WithError(err).Error("Failed to record request id on credential")
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	return request, nil
}

// Validate checks pin against the request most recently issued for
// phoneNumber and, on success, replaces the credential's password.
func (s *OTPService) Validate(ctx context.Context, phoneNumber, pin, newPassword string) (Outcome, error) {
	log := s.logger.WithField("phone", phoneNumber)

	// Hash up front so a password the hasher refuses never consumes the code.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return OutcomeInvalidCode, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	credential, err := s.credentials.GetByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return OutcomeInvalidCode, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if credential == nil {
		log.Warn("No credential registered for phone number")
		return OutcomeInvalidCode, fmt.Errorf("%w: %w", ErrVerification, ErrCredentialNotFound)
	}
	if credential.RequestID == "" {
		log.Warn("Credential has no outstanding verification request")
		return OutcomeInvalidCode, fmt.Errorf("%w: no verification request issued", ErrVerification)
	}
	log = log.WithField("request_id", credential.RequestID)

	request, err := s.requests.Get(ctx, credential.RequestID)
	if err != nil {
		return OutcomeInvalidCode, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if request == nil || !request.Usable(s.now(), s.cfg.MaxAttempts) {
		log.Info("Verification request is expired, consumed or out of attempts")
		return OutcomeInvalidCode, nil
	}

	if s.cfg.RequireSimCheck && s.simSwap != nil {
		result, err := s.simSwap.CheckSim(ctx, phoneNumber)
		if err != nil {
			return OutcomeInvalidCode, err
		}
		if result.Swapped {
			log.Warn("Refusing password reset after recent SIM swap")
			return OutcomeInvalidCode, ErrSimSwapped
		}
	}

	status, err := s.provider.CheckCode(ctx, credential.RequestID, pin)
	if err != nil {
		log.WithError(err).Error("Failed to check verification code")
		return OutcomeInvalidCode, fmt.Errorf("%w: check code: %w", ErrVerification, err)
	}

	if status != StatusCompleted {
		log.WithField("status", status).Info("Verification code rejected")
		if err := s.requests.RecordFailedAttempt(ctx, request); err != nil {
			log.WithError(err).Warn("Failed to record verification attempt")
		}
		return OutcomeInvalidCode, nil
	}

	if err := s.credentials.UpdatePassword(ctx, credential.ID, hash); err != nil {
		log.WithError(err).Error("Failed to write new password")
		return OutcomeInvalidCode, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	// The password is already replaced, so a failure here only leaves the
	// request pending until it expires or the provider refuses the code again.
	if err := s.requests.MarkCompleted(ctx, request); err != nil {
		log.WithError(err).Warn("Failed to mark verification request completed")
	}

	log.Info("Password reset after successful verification")
	return OutcomeSuccess, nil
}
