package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/resetguard/resetguard/internal/config"
	"github.com/resetguard/resetguard/internal/models"
	"github.com/resetguard/resetguard/internal/repository"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memCredentialStore struct {
	mu        sync.Mutex
	byID      map[string]*models.Credential
	lookupErr error
	updateErr error
}

func newMemCredentialStore(creds ...models.Credential) *memCredentialStore {
	s := &memCredentialStore{byID: map[string]*models.Credential{}}
	for i := range creds {
		c := creds[i]
		s.byID[c.ID] = &c
	}
	return s
}

func (s *memCredentialStore) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, c := range s.byID {
		if c.PhoneNumber == phoneNumber {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memCredentialStore) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	for _, c := range s.byID {
		if c.Username == username {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memCredentialStore) UpdateRequestID(ctx context.Context, id, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.byID[id].RequestID = requestID
	return nil
}

func (s *memCredentialStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.byID[id].PasswordHash = passwordHash
	return nil
}

func (s *memCredentialStore) get(id string) models.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.byID[id]
}

type fakeVerifyProvider struct {
	requestID  string
	startErr   error
	started    []string
	validPin   string
	checkErr   error
	checks     []string
	lastStatus string
}

func (p *fakeVerifyProvider) StartVerification(ctx context.Context, phoneNumber, brand string) (string, error) {
	p.started = append(p.started, phoneNumber+"|"+brand)
	if p.startErr != nil {
		return "", p.startErr
	}
	return p.requestID, nil
}

func (p *fakeVerifyProvider) CheckCode(ctx context.Context, requestID, code string) (string, error) {
	p.checks = append(p.checks, requestID+"|"+code)
	if p.checkErr != nil {
		return "", p.checkErr
	}
	if code == p.validPin {
		p.lastStatus = StatusCompleted
	} else {
		p.lastStatus = "failed"
	}
	return p.lastStatus, nil
}

type stubSimSwap struct {
	swapped bool
	err     error
	calls   int
}

func (s *stubSimSwap) CheckSim(ctx context.Context, phoneNumber string) (*models.SimSwapResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.SimSwapResult{PhoneNumber: phoneNumber, Swapped: s.swapped}, nil
}

type otpFixture struct {
	svc      *OTPService
	store    *memCredentialStore
	provider *fakeVerifyProvider
	requests *repository.VerificationRepository
	redis    *miniredis.Miniredis
	cfg      *config.VerifyConfig
}

const (
	alicePhone = "+15551234567"
	bobPhone   = "+15557654321"
)

func newOTPFixture(t *testing.T, simSwap SimSwapChecker) *otpFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	passwords := NewPasswordService(nil, bcrypt.MinCost, testLogger())
	oldHash, err := passwords.Hash("old")
	require.NoError(t, err)

	store := newMemCredentialStore(
		models.Credential{ID: "alice-id", Username: "alice", PhoneNumber: alicePhone, PasswordHash: oldHash},
		models.Credential{ID: "bob-id", Username: "bob", PhoneNumber: bobPhone, PasswordHash: oldHash},
	)
	provider := &fakeVerifyProvider{requestID: "REQ123", validPin: "0000"}
	requests := repository.NewVerificationRepository(rdb, testLogger())
	cfg := &config.VerifyConfig{
		Brand:         "Vonage Bank",
		RequestExpiry: 5 * time.Minute,
		MaxAttempts:   3,
	}

	return &otpFixture{
		svc:      NewOTPService(provider, store, requests, passwords, simSwap, cfg, testLogger()),
		store:    store,
		provider: provider,
		requests: requests,
		redis:    mr,
		cfg:      cfg,
	}
}

func passwordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func TestOTPService_Issue(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	request, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	require.Equal(t, "REQ123", request.RequestID)
	require.Equal(t, models.VerificationPending, request.Status)
	require.Equal(t, []string{alicePhone + "|Vonage Bank"}, f.provider.started)

	require.Equal(t, "REQ123", f.store.get("alice-id").RequestID)
	require.Empty(t, f.store.get("bob-id").RequestID)

	stored, err := f.requests.Get(ctx, "REQ123")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, alicePhone, stored.PhoneNumber)
}

func TestOTPService_Issue_UnknownPhone(t *testing.T) {
	f := newOTPFixture(t, nil)

	_, err := f.svc.Issue(context.Background(), "+15550000000")
	require.ErrorIs(t, err, ErrVerification)
	require.ErrorIs(t, err, ErrCredentialNotFound)
	require.Empty(t, f.provider.started)
}

func TestOTPService_Issue_ProviderFailure(t *testing.T) {
	f := newOTPFixture(t, nil)
	f.provider.startErr = errors.New("verify api error: status 500")

	_, err := f.svc.Issue(context.Background(), alicePhone)
	require.ErrorIs(t, err, ErrVerification)
	require.Empty(t, f.store.get("alice-id").RequestID)
}

func TestOTPService_Issue_PersistenceFailureIsReported(t *testing.T) {
	f := newOTPFixture(t, nil)
	f.store.updateErr = errors.New("dynamo unavailable")

	_, err := f.svc.Issue(context.Background(), alicePhone)
	require.ErrorIs(t, err, ErrVerification)
}

func TestOTPService_Issue_LastWriteWins(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	f.provider.requestID = "REQ456"
	_, err = f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	require.Equal(t, "REQ456", f.store.get("alice-id").RequestID)
}

func TestOTPService_Validate_Success(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	alice := f.store.get("alice-id")
	require.True(t, passwordMatches(alice.PasswordHash, "new123"))
	require.Equal(t, "REQ123", alice.RequestID)
	require.Equal(t, []string{"REQ123|0000"}, f.provider.checks)
}

func TestOTPService_Validate_InvalidCode(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	outcome, err := f.svc.Validate(ctx, alicePhone, "9999", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidCode, outcome)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "old"))

	stored, err := f.requests.Get(ctx, "REQ123")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Attempts)
	require.Equal(t, models.VerificationPending, stored.Status)

	outcome, err = f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
}

func TestOTPService_Validate_SingleUse(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	outcome, err = f.svc.Validate(ctx, alicePhone, "0000", "hijacked")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidCode, outcome)
	require.Len(t, f.provider.checks, 1)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "new123"))
}

func TestOTPService_Validate_Expired(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	f.redis.FastForward(f.cfg.RequestExpiry + time.Second)

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidCode, outcome)
	require.Empty(t, f.provider.checks)
}

func TestOTPService_Validate_AttemptsExhausted(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	for i := 0; i < f.cfg.MaxAttempts; i++ {
		outcome, err := f.svc.Validate(ctx, alicePhone, "1111", "new123")
		require.NoError(t, err)
		require.Equal(t, OutcomeInvalidCode, outcome)
	}

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidCode, outcome)
	require.Len(t, f.provider.checks, f.cfg.MaxAttempts)
}

func TestOTPService_Validate_NoRequestIssued(t *testing.T) {
	f := newOTPFixture(t, nil)

	_, err := f.svc.Validate(context.Background(), alicePhone, "0000", "new123")
	require.ErrorIs(t, err, ErrVerification)
	require.Empty(t, f.provider.checks)
}

func TestOTPService_Validate_UnknownPhone(t *testing.T) {
	f := newOTPFixture(t, nil)

	_, err := f.svc.Validate(context.Background(), "+15550000000", "0000", "new123")
	require.ErrorIs(t, err, ErrVerification)
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestOTPService_Validate_ProviderFailure(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)
	f.provider.checkErr = errors.New("http error: connection refused")

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.ErrorIs(t, err, ErrVerification)
	require.Equal(t, OutcomeInvalidCode, outcome)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "old"))
}

func TestOTPService_Validate_SimSwapGate(t *testing.T) {
	sim := &stubSimSwap{swapped: true}
	f := newOTPFixture(t, sim)
	f.cfg.RequireSimCheck = true
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.ErrorIs(t, err, ErrSimSwapped)
	require.Empty(t, f.provider.checks)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "old"))

	sim.swapped = false
	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Equal(t, 2, sim.calls)
}

func TestOTPService_Validate_SimSwapGateDisabled(t *testing.T) {
	sim := &stubSimSwap{swapped: true}
	f := newOTPFixture(t, sim)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Zero(t, sim.calls)
}

func TestOTPService_TargetPhone(t *testing.T) {
	f := newOTPFixture(t, nil)
	require.Equal(t, bobPhone, f.svc.TargetPhone(bobPhone))

	f.cfg.RecipientNumber = alicePhone
	require.Equal(t, alicePhone, f.svc.TargetPhone(bobPhone))
}

func TestOTPService_Validate_RejectedPasswordKeepsCode(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, alicePhone, "0000", strings.Repeat("a", MaxPasswordBytes+1))
	require.ErrorIs(t, err, ErrVerification)
	require.ErrorIs(t, err, ErrPasswordTooLong)
	require.Empty(t, f.provider.checks)

	stored, err := f.requests.Get(ctx, "REQ123")
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, stored.Status)
	require.Zero(t, stored.Attempts)

	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "new123"))
}

func TestOTPService_Validate_PasswordWriteFailureKeepsCode(t *testing.T) {
	f := newOTPFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alicePhone)
	require.NoError(t, err)

	f.store.updateErr = errors.New("dynamo throttled")
	_, err = f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.ErrorIs(t, err, ErrVerification)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "old"))

	stored, err := f.requests.Get(ctx, "REQ123")
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, stored.Status)

	f.store.updateErr = nil
	outcome, err := f.svc.Validate(ctx, alicePhone, "0000", "new123")
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.True(t, passwordMatches(f.store.get("alice-id").PasswordHash, "new123"))

	stored, err = f.requests.Get(ctx, "REQ123")
	require.NoError(t, err)
	require.Equal(t, models.VerificationCompleted, stored.Status)
}
