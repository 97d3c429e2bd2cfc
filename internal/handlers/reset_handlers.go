package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/resetguard/resetguard/internal/models"
	"github.com/resetguard/resetguard/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	msgCodeSent        = "Verification code sent."
	msgSuccess         = "Success"
	msgInvalidCode     = "Invalid verification code. Please try again."
	msgRequestError    = "Error processing request."
	msgVerifyError     = "Error during PIN verification."
	msgLoginError      = "Error during login."
	msgBadCredentials  = "Invalid user and password"
	msgInvalidBody     = "Invalid request body"
	msgInvalidPhone    = "Invalid phone number format"
	msgMissingPassword = "New password is required"
	msgLongPassword    = "New password must be at most 72 bytes"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

type OTPCoordinator interface {
	TargetPhone(requested string) string
	Issue(ctx context.Context, phoneNumber string) (*models.VerificationRequest, error)
	Validate(ctx context.Context, phoneNumber, pin, newPassword string) (service.Outcome, error)
}

type SimSwapChecker interface {
	CheckSim(ctx context.Context, phoneNumber string) (*models.SimSwapResult, error)
}

type LoginService interface {
	Login(ctx context.Context, username, password string) error
}

type ResetHandlers struct {
	otp     OTPCoordinator
	simSwap SimSwapChecker
	login   LoginService
	logger  *logrus.Logger
}

func NewResetHandlers(otp OTPCoordinator, simSwap SimSwapChecker, login LoginService, logger *logrus.Logger) *ResetHandlers {
	return &ResetHandlers{
		otp:     otp,
		simSwap: simSwap,
		login:   login,
		logger:  logger,
	}
}

type SendCodeRequest struct {
	Phone string `json:"phone"`
}

type SendCodeResponse struct {
	Message    string `json:"message"`
	VerifyCode bool   `json:"verifycode"`
	RequestID  string `json:"request_id,omitempty"`
}

type SimSwapRequest struct {
	Phone string `json:"phone"`
}

type SimSwapResponse struct {
	Swapped bool `json:"swapped"`
}

type VerifyRequest struct {
	Phone   string `json:"phone"`
	Pin     string `json:"pin"`
	NewPass string `json:"newPass"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *ResetHandlers) SendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, SendCodeResponse{Message: msgInvalidBody})
		return
	}

	phone := h.otp.TargetPhone(normalizePhone(req.Phone))
	if !e164.MatchString(phone) {
		h.respondWithJSON(w, http.StatusBadRequest, SendCodeResponse{Message: msgInvalidPhone})
		return
	}

	request, err := h.otp.Issue(r.Context(), phone)
	if err != nil {
		h.logger.WithError(err).WithField("phone", phone).Error("Error during verification")
		h.respondWithJSON(w, http.StatusInternalServerError, SendCodeResponse{Message: msgRequestError})
		return
	}

	h.respondWithJSON(w, http.StatusOK, SendCodeResponse{
		Message:    msgCodeSent,
		VerifyCode: true,
		RequestID:  request.RequestID,
	})
}

func (h *ResetHandlers) SimSwap(w http.ResponseWriter, r *http.Request) {
	var req SimSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidBody})
		return
	}

	phone := normalizePhone(req.Phone)
	if !e164.MatchString(phone) {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidPhone})
		return
	}

	result, err := h.simSwap.CheckSim(r.Context(), phone)
	if err != nil {
		h.logger.WithError(err).WithField("phone", phone).Error("Error checking SIM swap")
		h.respondWithJSON(w, http.StatusInternalServerError, MessageResponse{Message: msgRequestError})
		return
	}

	h.respondWithJSON(w, http.StatusOK, SimSwapResponse{Swapped: result.Swapped})
}

func (h *ResetHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidBody})
		return
	}

	phone := h.otp.TargetPhone(normalizePhone(req.Phone))
	if !e164.MatchString(phone) {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidPhone})
		return
	}
	if req.NewPass == "" {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgMissingPassword})
		return
	}
	if len(req.NewPass) > service.MaxPasswordBytes {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgLongPassword})
		return
	}

	pin := strings.TrimSpace(req.Pin)
	if pin == "" {
		h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgInvalidCode})
		return
	}

	outcome, err := h.otp.Validate(r.Context(), phone, pin, req.NewPass)
	if errors.Is(err, service.ErrSimSwapped) {
		h.respondWithJSON(w, http.StatusForbidden, MessageResponse{Message: msgRequestError})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("phone", phone).Error("Error during PIN verification")
		h.respondWithJSON(w, http.StatusInternalServerError, MessageResponse{Message: msgVerifyError})
		return
	}

	if outcome != service.OutcomeSuccess {
		h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgInvalidCode})
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgSuccess})
}

func (h *ResetHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, MessageResponse{Message: msgInvalidBody})
		return
	}

	err := h.login.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.respondWithJSON(w, http.StatusUnauthorized, MessageResponse{Message: msgBadCredentials})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Error during login")
		h.respondWithJSON(w, http.StatusInternalServerError, MessageResponse{Message: msgLoginError})
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgSuccess})
}

func (h *ResetHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("Failed to write response")
	}
}

// normalizePhone trims the input and adds the leading + of E.164 when missing.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}
