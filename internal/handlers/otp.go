package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/otp"
	"go.uber.org/zap"
)

type OTPHandler struct {
	otps        *otp.Service
	authHandler *auth.AuthHandler
	logger      *zap.Logger
}

func NewOTPHandler(otps *otp.Service, authHandler *auth.AuthHandler, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{otps: otps, authHandler: authHandler, logger: logger}
}

type SendOTPRequest struct {
	ForwardedFor string `header:"X-Forwarded-For"`
	RealIP       string `header:"X-Real-IP"`
	Body         struct {
		PhoneNumber string `json:"phone_number,omitempty" doc:"Indian mobile number"`
	}
}

type SendOTPResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		otp.Sent
	}
}

func clientIP(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	if realIP != "" {
		return realIP
	}
	return "unknown"
}

func (h *OTPHandler) HandleSend(ctx context.Context, input *SendOTPRequest) (*SendOTPResponse, error) {
	sent, err := h.otps.Send(ctx, input.Body.PhoneNumber, clientIP(input.ForwardedFor, input.RealIP))
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}
	resp := &SendOTPResponse{}
	resp.Body.Success = true
	resp.Body.Message = "OTP sent via WhatsApp"
	resp.Body.Sent = *sent
	return resp, nil
}

type VerifyOTPRequest struct {
	Body struct {
		PhoneNumber string `json:"phone_number,omitempty"`
		OTP         string `json:"otp,omitempty"`
	}
}

type VerifyOTPResponse struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      struct {
		Success  bool   `json:"success"`
		Verified bool   `json:"verified"`
		Token    string `json:"token"`
	}
}

// HandleVerify checks the code and hands back the phone-verification token,
// both in the body and as the phone_token cookie.
func (h *OTPHandler) HandleVerify(ctx context.Context, input *VerifyOTPRequest) (*VerifyOTPResponse, error) {
	token, err := h.otps.Verify(ctx, input.Body.PhoneNumber, input.Body.OTP)
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}
	resp := &VerifyOTPResponse{SetCookie: *h.authHandler.PhoneCookie(token)}
	resp.Body.Success = true
	resp.Body.Verified = true
	resp.Body.Token = token
	return resp, nil
}
