package models

import "time"

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationCompleted VerificationStatus = "completed"
)

// VerificationRequest is one outstanding SMS challenge issued by the
// verification provider.
type VerificationRequest struct {
	RequestID   string             `json:"request_id"`
	PhoneNumber string             `json:"phone_number"`
	Brand       string             `json:"brand"`
	Status      VerificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// Usable reports whether a code may still be checked against the request.
func (v *VerificationRequest) Usable(now time.Time, maxAttempts int) bool {
	return v.Status == VerificationPending &&
		now.Before(v.ExpiresAt) &&
		v.Attempts < maxAttempts
}
