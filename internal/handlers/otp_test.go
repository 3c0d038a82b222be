package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/models"
)

func TestOTP_VerifiedPhoneCanRegister(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/auth/otp/send", "X-Forwarded-For: 203.0.113.7, 10.0.0.1", map[string]any{"phone_number": "98765 43210"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, testPhone, body["phone_number"])
	assert.EqualValues(t, 300, body["expires_in"])

	var record models.OTPVerification
	require.NoError(t, env.db.First(&record, "phone_number = ?", testPhone).Error)
	assert.Equal(t, "203.0.113.7", record.IPAddress)

	code := env.sender.codes[testPhone]
	require.Len(t, code, 6)

	t.Run("SecondSendWaits", func(t *testing.T) {
		resp := env.api.Post("/auth/otp/send", map[string]any{"phone_number": "9876543210"})
		assert.Equal(t, http.StatusTooManyRequests, resp.Code, resp.Body.String())
		assert.Contains(t, decode(t, resp)["error"], "Please wait")
	})

	t.Run("WrongCode", func(t *testing.T) {
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		resp := env.api.Post("/auth/otp/verify", map[string]any{"phone_number": testPhone, "otp": wrong})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "Invalid OTP. 4 attempts remaining.", decode(t, resp)["error"])
	})

	resp = env.api.Post("/auth/otp/verify", map[string]any{"phone_number": testPhone, "otp": code})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body = decode(t, resp)
	assert.Equal(t, true, body["verified"])
	token := body["token"].(string)
	require.NotEmpty(t, token)
	assert.True(t, strings.HasPrefix(resp.Header().Get("Set-Cookie"), auth.PhoneCookieName+"="))

	resp = env.api.Post("/register", "Cookie: "+auth.PhoneCookieName+"="+token, formBody(nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	t.Run("CodeIsSingleUse", func(t *testing.T) {
		resp := env.api.Post("/auth/otp/verify", map[string]any{"phone_number": testPhone, "otp": code})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestOTP_Errors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/auth/otp/send", map[string]any{"phone_number": "12345"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.api.Post("/auth/otp/verify", map[string]any{"phone_number": testPhone, "otp": "123456"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
