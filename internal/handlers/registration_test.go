package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/payment"
)

func formBody(overrides map[string]any) map[string]any {
	body := map[string]any{
		"full_name":    "Ravi Kumar",
		"phone_number": "9876543210",
		"gender":       "M",
		"age":          22,
		"believer":     "yes",
		"church_name":  "Bethel",
		"address":      "4 Lake View, Vijayawada",
	}
	for k, v := range overrides {
		body[k] = v
	}
	return body
}

func TestHandleRegister(t *testing.T) {
	env := newTestEnv(t)
	phoneCookie := env.phoneCookie(t, testPhone)

	resp := env.api.Post("/register", phoneCookie, formBody(map[string]any{"registration_type": "kids", "age": 9}))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "YC000001", body["member_id"])
	assert.Regexp(t, `^YC26[A-Z]{2}[0-9]{2}$`, body["registration_id"])
	assert.EqualValues(t, 1, body["registration_number"])

	var reg models.Registration
	require.NoError(t, env.db.First(&reg, "registration_id = ?", body["registration_id"]).Error)
	assert.Equal(t, models.RegistrationKids, reg.RegistrationType)
	assert.Equal(t, models.PaymentPending, reg.PaymentStatus)
	assert.Equal(t, "online", reg.RegisteredBy)
	assert.Nil(t, reg.GroupName)

	t.Run("SecondRegistrationGetsNextNumbers", func(t *testing.T) {
		resp := env.api.Post("/register", phoneCookie, formBody(nil))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		body := decode(t, resp)
		assert.Equal(t, "YC000002", body["member_id"])
		assert.EqualValues(t, 2, body["registration_number"])
	})
}

func TestHandleRegister_PhoneVerification(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/register", formBody(nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "Phone number not verified", decode(t, resp)["error"])

	resp = env.api.Post("/register", env.phoneCookie(t, "+918123456789"), formBody(nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// A staff session is not a phone verification.
	_, staff := env.staff(t, "desk-1", models.RoleFrontDesk)
	resp = env.api.Post("/register", staff, formBody(nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.api.Post("/register", env.phoneCookie(t, testPhone), formBody(map[string]any{"church_name": ""}))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Missing required fields", decode(t, resp)["error"])
}

func TestHandleFrontdeskRegister(t *testing.T) {
	env := newTestEnv(t)
	_, desk := env.staff(t, "desk-1", models.RoleFrontDesk)

	resp := env.api.Post("/frontdesk/register", desk, formBody(map[string]any{
		"registration_type":  "faithbox",
		"amount":             100,
		"collected_faithbox": true,
	}))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)

	var reg models.Registration
	require.NoError(t, env.db.First(&reg, "registration_id = ?", body["registration_id"]).Error)
	assert.Equal(t, models.PaymentCompleted, reg.PaymentStatus)
	assert.Equal(t, 100, reg.PaymentAmount)
	assert.Equal(t, "cash", reg.PaymentMethod)
	assert.Equal(t, "staff-desk-1", reg.RegisteredBy)
	require.NotNil(t, reg.CollectedFaithbox)
	assert.True(t, *reg.CollectedFaithbox)

	t.Run("BelowMinimum", func(t *testing.T) {
		resp := env.api.Post("/frontdesk/register", desk, formBody(map[string]any{"amount": 100}))
		assert.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
	})

	t.Run("RequiresStaff", func(t *testing.T) {
		resp := env.api.Post("/frontdesk/register", env.phoneCookie(t, testPhone), formBody(nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestPaymentFlow_Online(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Post("/register/initiate", env.phoneCookie(t, testPhone), formBody(nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	orderID := body["merchant_order_id"].(string)
	assert.True(t, strings.HasPrefix(orderID, "TXN_"))
	assert.Equal(t, "https://pay.example/"+orderID, body["redirect_url"])
	assert.EqualValues(t, 50000, env.gw.lastOrder(t).AmountPaise)

	resp = env.api.Get("/payment/verify?merchant_order_id=" + orderID)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, false, decode(t, resp)["success"], "still pending at the gateway")

	status, _ := json.Marshal(payment.Status{
		Success:               true,
		Code:                  payment.CodeSuccess,
		State:                 payment.StateCompleted,
		MerchantTransactionID: orderID,
		TransactionID:         "T123",
	})
	rec := postCallback(env, string(status))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/register/payment-success", loc.Path)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.Equal(t, "YC000001", loc.Query().Get("member_id"))
	registrationID := loc.Query().Get("registration_id")
	assert.NotEmpty(t, registrationID)

	// The poll after the callback sees the same registration.
	resp = env.api.Get("/payment/verify?merchant_order_id=" + orderID)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body = decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, registrationID, body["registration_id"])

	var count int64
	env.db.Model(&models.Registration{}).Count(&count)
	assert.EqualValues(t, 1, count)

	var reg models.Registration
	require.NoError(t, env.db.First(&reg, "registration_id = ?", registrationID).Error)
	assert.Equal(t, models.PaymentCompleted, reg.PaymentStatus)
	assert.Equal(t, "phonepe", reg.PaymentMethod)
}

func TestPaymentFlow_FrontdeskFailure(t *testing.T) {
	env := newTestEnv(t)
	_, desk := env.staff(t, "desk-1", models.RoleFrontDesk)

	resp := env.api.Post("/frontdesk/payment/initiate", desk, formBody(map[string]any{"amount": 400}))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	orderID := decode(t, resp)["merchant_order_id"].(string)
	assert.True(t, strings.HasPrefix(orderID, "FD_"))
	assert.EqualValues(t, 40000, env.gw.lastOrder(t).AmountPaise)

	status, _ := json.Marshal(payment.Status{
		Code:                  "PAYMENT_ERROR",
		State:                 payment.StateFailed,
		MerchantTransactionID: orderID,
	})
	rec := postCallback(env, string(status))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/frontdesk/payment-callback", loc.Path)
	assert.Equal(t, "failed", loc.Query().Get("status"))
	assert.Equal(t, orderID, loc.Query().Get("transaction"))

	var count int64
	env.db.Model(&models.Registration{}).Count(&count)
	assert.Zero(t, count)
}

func postCallback(env *testEnv, response string) *httptest.ResponseRecorder {
	form := url.Values{"response": {response}}
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentCallback_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		response string
		path     string
		reason   string
	}{
		{"NoResponse", "", "/register/payment-failed", "no_response"},
		{"Garbage", "not-json", "/register/payment-failed", "invalid_response"},
		{"NoTransaction", `{"Code":"PAYMENT_SUCCESS"}`, "/register/payment-failed", "no_transaction_id"},
		{"UnknownOrder", `{"Code":"PAYMENT_SUCCESS","MerchantTransactionID":"TXN_UNKNOWN"}`, "/register/payment-failed", "pending_not_found"},
		{"UnknownFrontdeskOrder", `{"Code":"PAYMENT_SUCCESS","MerchantTransactionID":"FD_UNKNOWN"}`, "/frontdesk/payment-callback", "pending_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCallback(env, tt.response)
			require.Equal(t, http.StatusSeeOther, rec.Code)
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "camp.example", loc.Host)
			assert.Equal(t, tt.path, loc.Path)
			assert.Equal(t, tt.reason, loc.Query().Get("error"))
		})
	}
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)

	resp := env.api.Get("/categories")
	require.Equal(t, http.StatusOK, resp.Code)
	cats := decode(t, resp)["categories"].([]any)
	require.Len(t, cats, 3)
	first := cats[0].(map[string]any)
	assert.Equal(t, "normal", first["type"])
	assert.EqualValues(t, 500, first["fee"])
}
