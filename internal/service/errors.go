package service

import "errors"

var (
	// ErrAuthentication covers failures of the backchannel authorization or
	// the token exchange that follows it.
	ErrAuthentication = errors.New("backchannel authentication failed")
	// ErrSimSwapCheck is returned when the SIM swap status could not be
	// determined, including when authentication failed first.
	ErrSimSwapCheck = errors.New("sim swap check failed")
	// ErrVerification covers challenge issuance, credential lookup and code
	// check failures. A wrong code is not an ErrVerification.
	ErrVerification = errors.New("verification failed")

	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSimSwapped         = errors.New("sim recently swapped")
	ErrPasswordTooLong    = errors.New("password exceeds 72 bytes")
)
