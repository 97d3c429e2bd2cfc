package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/resetguard/resetguard/internal/models"
	"github.com/sirupsen/logrus"
)

// VerificationRepository keeps local state for issued verification requests
// so a code can be checked at most until the request expires or completes.
type VerificationRepository struct {
	client redis.Cmdable
	logger *logrus.Logger
}

func NewVerificationRepository(client redis.Cmdable, logger *logrus.Logger) *VerificationRepository {
	return &VerificationRepository{
		client: client,
		logger: logger,
	}
}

func verificationKey(requestID string) string {
	return fmt.Sprintf("verify_request:%s", requestID)
}

// Save stores the request with a TTL matching its expiry.
func (r *VerificationRepository) Save(ctx context.Context, request *models.VerificationRequest) error {
	ttl := time.Until(request.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("verification request %s already expired", request.RequestID)
	}

	dataJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal verification request: %w", err)
	}

	if err := r.client.Set(ctx, verificationKey(request.RequestID), dataJSON, ttl).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to store verification request in Redis")
		return fmt.Errorf("failed to store verification request: %w", err)
	}

	return nil
}

// Get returns the stored request, or nil once it has expired or was never
// issued by this service.
func (r *VerificationRepository) Get(ctx context.Context, requestID string) (*models.VerificationRequest, error) {
	dataJSON, err := r.client.Get(ctx, verificationKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to get verification request from Redis")
		return nil, fmt.Errorf("failed to get verification request: %w", err)
	}

	var request models.VerificationRequest
	if err := json.Unmarshal(dataJSON, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification request: %w", err)
	}

	return &request, nil
}

// RecordFailedAttempt increments the attempt counter, keeping the original TTL.
func (r *VerificationRepository) RecordFailedAttempt(ctx context.Context, request *models.VerificationRequest) error {
	request.Attempts++
	return r.overwrite(ctx, request)
}

// MarkCompleted moves the request to its terminal state so the code cannot be
// replayed while the provider still considers it valid.
func (r *VerificationRepository) MarkCompleted(ctx context.Context, request *models.VerificationRequest) error {
	request.Status = models.VerificationCompleted
	return r.overwrite(ctx, request)
}

func (r *VerificationRepository) overwrite(ctx context.Context, request *models.VerificationRequest) error {
	dataJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal verification request: %w", err)
	}

	// XX keeps an expired request from being recreated without a TTL.
	err = r.client.SetArgs(ctx, verificationKey(request.RequestID), dataJSON, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to update verification request in Redis")
		return fmt.Errorf("failed to update verification request: %w", err)
	}

	return nil
}
