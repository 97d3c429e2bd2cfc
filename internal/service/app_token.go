package service

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// AppTokenService mints short lived application JWTs that authenticate this
// service to the provider APIs.
type AppTokenService struct {
	applicationID string
	privateKey    *rsa.PrivateKey
	expiry        time.Duration
	now           func() time.Time
	logger        *logrus.Logger
}

type AppClaims struct {
	ApplicationID string `json:"application_id"`
	jwt.RegisteredClaims
}

func NewAppTokenService(applicationID string, privateKeyPEM []byte, expiry time.Duration, logger *logrus.Logger) (*AppTokenService, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("application id is required")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse application private key: %w", err)
	}

	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &AppTokenService{
		applicationID: applicationID,
		privateKey:    key,
		expiry:        expiry,
		now:           time.Now,
		logger:        logger,
	}, nil
}

// Sign returns a freshly signed application token and its expiry.
func (s *AppTokenService) Sign() (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)
	jti := uuid.New().String()

	claims := &AppClaims{
		ApplicationID: s.applicationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign application token")
		return "", time.Time{}, fmt.Errorf("failed to sign application token: %w", err)
	}

	return signed, expiresAt, nil
}

// Token implements oauth2.TokenSource. Wrap it with oauth2.ReuseTokenSource
// to avoid signing on every request.
func (s *AppTokenService) Token() (*oauth2.Token, error) {
	signed, expiresAt, err := s.Sign()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      expiresAt,
	}, nil
}

// ServiceTokenSource returns the bearer credential used for the backchannel
// authorization calls: a static JWT when one is configured, otherwise tokens
// minted by signer.
func ServiceTokenSource(staticJWT string, signer *AppTokenService) oauth2.TokenSource {
	if staticJWT != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: staticJWT, TokenType: "Bearer"})
	}
	return oauth2.ReuseTokenSource(nil, signer)
}
