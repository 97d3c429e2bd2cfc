package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/resetguard/resetguard/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const SimSwapScope = "dpv:FraudPreventionAndDetection#check-sim-swap"

type Authenticator interface {
	Authenticate(ctx context.Context, phoneNumber, scope string) (*oauth2.Token, error)
}

// SimSwapService asks the risk signal API whether a phone's SIM was swapped
// within the configured lookback window.
type SimSwapService struct {
	auth     Authenticator
	endpoint string
	maxAge   int
	base     *http.Client
	logger   *logrus.Logger
}

func NewSimSwapService(auth Authenticator, endpoint string, maxAge int, base *http.Client, logger *logrus.Logger) *SimSwapService {
	if base == nil {
		base = http.DefaultClient
	}
	return &SimSwapService{
		auth:     auth,
		endpoint: endpoint,
		maxAge:   maxAge,
		base:     base,
		logger:   logger,
	}
}

type simSwapRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	MaxAge      int    `json:"maxAge"`
}

type simSwapResponse struct {
	Swapped *bool `json:"swapped"`
}

// CheckSim reports the provider's swapped flag for phoneNumber. Any failure is
// returned as an error; no default answer is assumed.
func (s *SimSwapService) CheckSim(ctx context.Context, phoneNumber string) (*models.SimSwapResult, error) {
	log := s.logger.WithField("phone", phoneNumber)
	log.Info("Checking SIM swap")

	token, err := s.auth.Authenticate(ctx, phoneNumber, SimSwapScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSimSwapCheck, err)
	}

	payload, err := json.Marshal(simSwapRequest{PhoneNumber: phoneNumber, MaxAge: s.maxAge})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %w", ErrSimSwapCheck, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrSimSwapCheck, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := bearerClient(oauth2.StaticTokenSource(token), s.base).Do(req)
	if err != nil {
		log.WithError(err).Error("SIM swap request failed")
		return nil, fmt.Errorf("%w: http error: %w", ErrSimSwapCheck, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrSimSwapCheck, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"response": string(body),
		}).Error("SIM swap API returned an error")
		return nil, fmt.Errorf("%w: status %d", ErrSimSwapCheck, resp.StatusCode)
	}

	var out simSwapResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrSimSwapCheck, err)
	}
	if out.Swapped == nil {
		return nil, fmt.Errorf("%w: response has no swapped field", ErrSimSwapCheck)
	}

	log.WithField("swapped", *out.Swapped).Info("SIM swap check completed")

	return &models.SimSwapResult{
		PhoneNumber: phoneNumber,
		Swapped:     *out.Swapped,
		MaxAge:      s.maxAge,
	}, nil
}
