package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	StatusCompleted   = "completed"
	StatusInvalidCode = "invalid_code"
	StatusExpired     = "expired"
	StatusRejected    = "rejected"
)

// VerifyClient talks to the Vonage Verify v2 API.
type VerifyClient struct {
	baseURL    string
	codeLength int
	timeoutSec int
	client     *http.Client
	logger     *logrus.Logger
}

// NewVerifyClient returns a client authenticated with application tokens from
// credentials. channelTimeoutSec bounds how long the provider keeps a code
// valid.
func NewVerifyClient(baseURL string, codeLength, channelTimeoutSec int, credentials oauth2.TokenSource, base *http.Client, logger *logrus.Logger) *VerifyClient {
	return &VerifyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		codeLength: codeLength,
		timeoutSec: channelTimeoutSec,
		client:     bearerClient(credentials, base),
		logger:     logger,
	}
}

type verifyWorkflow struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
}

type startVerificationRequest struct {
	Brand          string           `json:"brand"`
	CodeLength     int              `json:"code_length,omitempty"`
	ChannelTimeout int              `json:"channel_timeout,omitempty"`
	Workflow       []verifyWorkflow `json:"workflow"`
}

type startVerificationResponse struct {
	RequestID string `json:"request_id"`
}

type checkCodeRequest struct {
	Code string `json:"code"`
}

type checkCodeResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// StartVerification sends an SMS challenge to phoneNumber and returns the
// provider's request id.
func (c *VerifyClient) StartVerification(ctx context.Context, phoneNumber, brand string) (string, error) {
	payload := startVerificationRequest{
		Brand:          brand,
		CodeLength:     c.codeLength,
		ChannelTimeout: c.timeoutSec,
		Workflow: []verifyWorkflow{
			{Channel: "sms", To: strings.TrimPrefix(phoneNumber, "+")},
		},
	}

	status, body, err := c.post(ctx, c.baseURL+"/v2/verify", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"phone":    phoneNumber,
			"status":   status,
			"response": string(body),
		}).Error("Verify API rejected verification request")
		return "", fmt.Errorf("verify api error: status %d", status)
	}

	var out startVerificationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode verify response: %w", err)
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("verify response has no request_id")
	}

	return out.RequestID, nil
}

// CheckCode submits code for requestID. It returns StatusCompleted when the
// code was accepted and another status when the provider refused it; an error
// means the outcome is unknown.
func (c *VerifyClient) CheckCode(ctx context.Context, requestID, code string) (string, error) {
	endpoint := c.baseURL + "/v2/verify/" + url.PathEscape(requestID)

	status, body, err := c.post(ctx, endpoint, checkCodeRequest{Code: code})
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK:
		var out checkCodeResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("failed to decode check response: %w", err)
		}
		if out.Status == "" {
			return "", fmt.Errorf("check response has no status")
		}
		return out.Status, nil
	case http.StatusBadRequest:
		return StatusInvalidCode, nil
	case http.StatusNotFound, http.StatusGone:
		return StatusExpired, nil
	case http.StatusConflict, http.StatusTooManyRequests:
		return StatusRejected, nil
	default:
		c.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     status,
			"response":   string(body),
		}).Error("Verify API failed to check code")
		return "", fmt.Errorf("verify api error: status %d", status)
	}
}

func (c *VerifyClient) post(ctx context.Context, endpoint string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}
