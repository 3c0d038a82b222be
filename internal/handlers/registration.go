package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/payment"
	"github.com/yescateam/camp-desk-api/internal/phone"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"go.uber.org/zap"
)

// CallbackDecoder turns the gateway's callback form into a status.
type CallbackDecoder interface {
	DecodeCallback(response, xVerify string) (*payment.Status, error)
}

type RegistrationHandler struct {
	registrations *registration.Service
	payments      *payment.Service
	decoder       CallbackDecoder
	authHandler   *auth.AuthHandler
	frontendURL   string
	logger        *zap.Logger
}

func NewRegistrationHandler(registrations *registration.Service, payments *payment.Service, decoder CallbackDecoder, authHandler *auth.AuthHandler, frontendURL string, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		registrations: registrations,
		payments:      payments,
		decoder:       decoder,
		authHandler:   authHandler,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		logger:        logger,
	}
}

// PhoneInput carries the phone-verification cookie issued after an OTP check.
type PhoneInput struct {
	Cookie string `header:"Cookie"`
}

type RegistrationForm struct {
	registration.Form
	RegistrationType models.RegistrationType `json:"registration_type,omitempty" enum:"normal,faithbox,kids" doc:"Defaults to normal"`
}

type RegisterRequest struct {
	PhoneInput
	Body RegistrationForm
}

type RegisterResponse struct {
	Body struct {
		Success bool `json:"success"`
		registration.Issued
		Message string `json:"message"`
	}
}

// verifiedPhone checks that the form's number is the one the caller proved
// ownership of.
func (h *RegistrationHandler) verifiedPhone(input PhoneInput, form *registration.Form) error {
	verified, err := h.authHandler.VerifyPhoneToken(input.Cookie)
	if err != nil {
		return huma.Error401Unauthorized("Phone number not verified")
	}
	if phone.Normalize(form.PhoneNumber) != verified {
		return huma.Error403Forbidden("Phone number does not match the verified number")
	}
	return nil
}

// HandleRegister records an online registration whose fee is settled later.
func (h *RegistrationHandler) HandleRegister(ctx context.Context, input *RegisterRequest) (*RegisterResponse, error) {
	if err := h.verifiedPhone(input.PhoneInput, &input.Body.Form); err != nil {
		return nil, err
	}

	issued, err := h.registrations.Create(ctx, registration.Input{
		Form: input.Body.Form,
		Type: input.Body.RegistrationType,
	})
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}

	resp := &RegisterResponse{}
	resp.Body.Success = true
	resp.Body.Issued = *issued
	resp.Body.Message = "Registration successful"
	return resp, nil
}

type InitiateResponse struct {
	Body struct {
		Success bool `json:"success"`
		payment.Initiated
	}
}

// HandleInitiate parks an online registration and opens a gateway order for
// the category fee.
func (h *RegistrationHandler) HandleInitiate(ctx context.Context, input *RegisterRequest) (*InitiateResponse, error) {
	if err := h.verifiedPhone(input.PhoneInput, &input.Body.Form); err != nil {
		return nil, err
	}

	res, err := h.payments.Initiate(ctx, payment.InitiateInput{
		Form:   input.Body.Form,
		Type:   input.Body.RegistrationType,
		Source: models.SourceOnline,
	})
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}

	resp := &InitiateResponse{}
	resp.Body.Success = true
	resp.Body.Initiated = *res
	return resp, nil
}

type FrontdeskRequest struct {
	auth.AuthInput
	Body struct {
		RegistrationForm
		Amount            int   `json:"amount,omitempty" minimum:"0" doc:"Amount collected in rupees; defaults to the category fee"`
		CollectedFaithbox *bool `json:"collected_faithbox,omitempty"`
	}
}

func staffName(u *models.User) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("user:%d", u.ID)
}

// HandleFrontdeskRegister registers a walk-in who paid cash at the desk.
func (h *RegistrationHandler) HandleFrontdeskRegister(ctx context.Context, input *FrontdeskRequest) (*RegisterResponse, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations)
	if err != nil {
		return nil, err
	}

	issued, err := h.registrations.Create(ctx, registration.Input{
		Form:              input.Body.Form,
		Type:              input.Body.RegistrationType,
		Amount:            input.Body.Amount,
		PaymentStatus:     models.PaymentCompleted,
		PaymentMethod:     registration.PaymentMethodCash,
		CollectedFaithbox: input.Body.CollectedFaithbox,
		RegisteredBy:      staffName(user),
		Actor:             audit.Actor{Type: audit.ActorAdmin, ID: fmt.Sprintf("user:%d", user.ID)},
	})
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}

	resp := &RegisterResponse{}
	resp.Body.Success = true
	resp.Body.Issued = *issued
	resp.Body.Message = "Registration successful"
	return resp, nil
}

// HandleFrontdeskInitiate opens a gateway order for a walk-in paying by UPI.
func (h *RegistrationHandler) HandleFrontdeskInitiate(ctx context.Context, input *FrontdeskRequest) (*InitiateResponse, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations)
	if err != nil {
		return nil, err
	}

	res, err := h.payments.Initiate(ctx, payment.InitiateInput{
		Form:              input.Body.Form,
		Type:              input.Body.RegistrationType,
		Amount:            input.Body.Amount,
		Source:            models.SourceFrontdesk,
		CollectedFaithbox: input.Body.CollectedFaithbox,
		RegisteredBy:      staffName(user),
	})
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}

	resp := &InitiateResponse{}
	resp.Body.Success = true
	resp.Body.Initiated = *res
	return resp, nil
}

type VerifyRequest struct {
	MerchantOrderID string `query:"merchant_order_id"`
}

type VerifyResponse struct {
	Body *payment.Outcome
}

func (h *RegistrationHandler) HandleVerify(ctx context.Context, input *VerifyRequest) (*VerifyResponse, error) {
	out, err := h.payments.Verify(ctx, input.MerchantOrderID)
	if err != nil {
		return nil, toHTTP(h.logger, err)
	}
	return &VerifyResponse{Body: out}, nil
}

// HandlePaymentCallback receives the gateway's form post and sends the
// browser on to the matching result page.
func (h *RegistrationHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirect(w, r, models.SourceOnline, false, url.Values{"error": {"bad_request"}})
		return
	}
	response := r.PostForm.Get("response")
	if response == "" {
		h.redirect(w, r, models.SourceOnline, false, url.Values{"error": {"no_response"}})
		return
	}

	status, err := h.decoder.DecodeCallback(response, r.Header.Get("X-VERIFY"))
	if err != nil {
		h.logger.Warn("rejected payment callback", zap.Error(err))
		h.redirect(w, r, models.SourceOnline, false, url.Values{"error": {"invalid_response"}})
		return
	}
	source := sourceOf(status.MerchantTransactionID)

	out, err := h.payments.HandleCallback(r.Context(), status)
	if err != nil {
		reason := "processing_failed"
		switch {
		case status.MerchantTransactionID == "":
			reason = "no_transaction_id"
		case errors.Is(err, apperr.ErrNotFound):
			reason = "pending_not_found"
		default:
			h.logger.Error("payment callback failed",
				zap.String("merchant_order_id", status.MerchantTransactionID), zap.Error(err))
		}
		h.redirect(w, r, source, false, url.Values{
			"error":       {reason},
			"transaction": {status.MerchantTransactionID},
		})
		return
	}

	if !out.Completed {
		h.redirect(w, r, out.Source, false, url.Values{
			"status":      {"failed"},
			"transaction": {out.MerchantOrderID},
			"reason":      {status.Code},
		})
		return
	}
	h.redirect(w, r, out.Source, true, url.Values{
		"status":          {"success"},
		"member_id":       {out.MemberID},
		"registration_id": {out.RegistrationID},
		"transaction":     {out.MerchantOrderID},
	})
}

func sourceOf(merchantOrderID string) models.PendingSource {
	if strings.HasPrefix(merchantOrderID, "FD_") {
		return models.SourceFrontdesk
	}
	return models.SourceOnline
}

func (h *RegistrationHandler) redirect(w http.ResponseWriter, r *http.Request, source models.PendingSource, ok bool, q url.Values) {
	var path string
	switch {
	case source == models.SourceFrontdesk:
		path = "/frontdesk/payment-callback"
	case ok:
		path = "/register/payment-success"
	default:
		path = "/register/payment-failed"
	}
	http.Redirect(w, r, h.frontendURL+path+"?"+q.Encode(), http.StatusSeeOther)
}
