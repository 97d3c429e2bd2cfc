package models

import (
	"time"
)

// Credential is the login record a password reset operates on.
type Credential struct {
	ID              string     `json:"id" dynamodbav:"id"`
	Username        string     `json:"username" dynamodbav:"username"`
	PhoneNumber     string     `json:"phone_number" dynamodbav:"phone_number"`
	PasswordHash    string     `json:"-" dynamodbav:"password_hash"`
	RequestID       string     `json:"request_id,omitempty" dynamodbav:"request_id,omitempty"`
	RequestIssuedAt *time.Time `json:"request_issued_at,omitempty" dynamodbav:"request_issued_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (c *Credential) GetPK() string {
	return "CREDENTIAL#" + c.ID
}

func (c *Credential) GetSK() string {
	return "METADATA"
}
