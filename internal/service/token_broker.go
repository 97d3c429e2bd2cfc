package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const cibaGrantType = "urn:openid:params:grant-type:ciba"

// TokenBroker obtains scope limited access tokens for a phone number through
// client initiated backchannel authentication. Tokens are never cached.
type TokenBroker struct {
	authURL  string
	tokenURL string
	client   *http.Client
	logger   *logrus.Logger
}

// NewTokenBroker returns a broker whose requests are bearer authenticated with
// tokens from credentials. base supplies the transport and timeout.
func NewTokenBroker(authURL, tokenURL string, credentials oauth2.TokenSource, base *http.Client, logger *logrus.Logger) *TokenBroker {
	return &TokenBroker{
		authURL:  authURL,
		tokenURL: tokenURL,
		client:   bearerClient(credentials, base),
		logger:   logger,
	}
}

type authorizeResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int    `json:"expires_in"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Authenticate runs the backchannel authorization request followed by the
// CIBA token exchange and returns the resulting access token.
func (b *TokenBroker) Authenticate(ctx context.Context, phoneNumber, scope string) (*oauth2.Token, error) {
	log := b.logger.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"scope": scope,
	})
	log.Info("Starting backchannel authentication")

	var authResp authorizeResponse
	if err := b.postForm(ctx, b.authURL, url.Values{
		"login_hint": {phoneNumber},
		"scope":      {scope},
	}, &authResp); err != nil {
		log.WithError(err).Error("Backchannel authorization request failed")
		return nil, fmt.Errorf("%w: authorize: %w", ErrAuthentication, err)
	}
	if authResp.AuthReqID == "" {
		log.Error("Backchannel authorization response has no auth_req_id")
		return nil, fmt.Errorf("%w: authorize: missing auth_req_id", ErrAuthentication)
	}

	var tokResp tokenResponse
	if err := b.postForm(ctx, b.tokenURL, url.Values{
		"auth_req_id": {authResp.AuthReqID},
		"grant_type":  {cibaGrantType},
	}, &tokResp); err != nil {
		log.WithError(err).Error("Token exchange failed")
		return nil, fmt.Errorf("%w: token: %w", ErrAuthentication, err)
	}
	if tokResp.AccessToken == "" {
		log.Error("Token response has no access_token")
		return nil, fmt.Errorf("%w: token: missing access_token", ErrAuthentication)
	}

	token := &oauth2.Token{
		AccessToken: tokResp.AccessToken,
		TokenType:   tokResp.TokenType,
	}
	if tokResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokResp.ExpiresIn) * time.Second)
	}

	return token.WithExtra(map[string]interface{}{
		"scope":      scope,
		"login_hint": phoneNumber,
	}), nil
}

func (b *TokenBroker) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var oauthErr oauthErrorResponse
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			return fmt.Errorf("status %d: %s: %s", resp.StatusCode, oauthErr.Error, oauthErr.ErrorDescription)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// bearerClient wraps base so every request carries a bearer token from src.
func bearerClient(src oauth2.TokenSource, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}
