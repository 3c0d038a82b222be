// Package payment collects registration fees through PhonePe.
//
// A submitted form is parked as a pending registration keyed by the merchant
// order id sent to the gateway. The callback and the verify poll both settle
// it, and whichever arrives first turns it into a real registration; the
// other sees it completed and returns the same ids.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	PendingTTL = 30 * time.Minute

	onlinePrefix    = "TXN_"
	frontdeskPrefix = "FD_"
)

// Gateway is the part of the PhonePe client the flows need.
type Gateway interface {
	CreateOrder(ctx context.Context, o Order) (*OrderResult, error)
	CheckStatus(ctx context.Context, merchantTransactionID string) (*Status, error)
}

type Service struct {
	db            *gorm.DB
	gateway       Gateway
	registrations *registration.Service
	publicURL     string
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(db *gorm.DB, gateway Gateway, registrations *registration.Service, publicURL string, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:            db,
		gateway:       gateway,
		registrations: registrations,
		publicURL:     strings.TrimRight(publicURL, "/"),
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

type InitiateInput struct {
	Form              registration.Form
	Type              models.RegistrationType
	Amount            int
	Source            models.PendingSource
	CollectedFaithbox *bool
	RegisteredBy      string
}

type Initiated struct {
	MerchantOrderID string `json:"merchant_order_id"`
	RedirectURL     string `json:"redirect_url"`
}

// Outcome is where a pending registration ended up after a callback or poll.
type Outcome struct {
	MerchantOrderID string               `json:"merchant_order_id"`
	Source          models.PendingSource `json:"source"`
	State           string               `json:"state"`
	Completed       bool                 `json:"success"`
	MemberID        string               `json:"member_id,omitempty"`
	RegistrationID  string               `json:"registration_id,omitempty"`
	Message         string               `json:"message"`
}

func newOrderID(source models.PendingSource) string {
	prefix := onlinePrefix
	if source == models.SourceFrontdesk {
		prefix = frontdeskPrefix
	}
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:24]
}

// Initiate parks the form and opens a gateway order for it.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*Initiated, error) {
	if in.Source == "" {
		in.Source = models.SourceOnline
	}
	rin := registration.Input{
		Form:              in.Form,
		Type:              in.Type,
		Amount:            in.Amount,
		CollectedFaithbox: in.CollectedFaithbox,
		RegisteredBy:      in.RegisteredBy,
	}
	if in.Source == models.SourceOnline {
		// Online participants always pay the listed fee.
		rin.Amount = 0
		rin.CollectedFaithbox = nil
		rin.RegisteredBy = registration.RegisteredOnline
	}
	if _, err := registration.Prepare(&rin); err != nil {
		return nil, err
	}

	form, err := json.Marshal(rin.Form)
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to encode registration form")
	}

	now := s.now().UTC()
	pending := models.PendingRegistration{
		MerchantOrderID:   newOrderID(in.Source),
		CampID:            s.registrations.CampID(),
		Source:            in.Source,
		RegistrationType:  rin.Type,
		Amount:            rin.Amount,
		FormData:          form,
		CollectedFaithbox: rin.CollectedFaithbox,
		RegisteredBy:      rin.RegisteredBy,
		PaymentStatus:     models.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(PendingTTL),
	}
	if err := s.db.WithContext(ctx).Create(&pending).Error; err != nil {
		return nil, apperr.Dependency(err, "Failed to save pending registration")
	}

	callback := s.publicURL + "/payment/callback"
	order, err := s.gateway.CreateOrder(ctx, Order{
		MerchantTransactionID: pending.MerchantOrderID,
		AmountPaise:           int64(pending.Amount) * 100,
		MobileNumber:          rin.Form.PhoneNumber,
		RedirectURL:           callback,
		CallbackURL:           callback,
	})
	if err != nil {
		s.markFailed(ctx, pending.MerchantOrderID, "", err.Error())
		s.metrics.Payment("initiate_failed")
		s.logger.Error("payment order failed", zap.String("merchant_order_id", pending.MerchantOrderID), zap.Error(err))
		return nil, apperr.Dependency(err, "Failed to create payment order")
	}

	s.db.WithContext(ctx).Model(&models.PendingRegistration{}).
		Where("merchant_order_id = ?", pending.MerchantOrderID).
		Updates(map[string]any{"payment_state": StatePending, "updated_at": s.now().UTC()})
	s.metrics.Payment("initiated")
	s.logger.Info("payment order created",
		zap.String("merchant_order_id", pending.MerchantOrderID),
		zap.String("source", string(in.Source)),
		zap.Int("amount", pending.Amount))

	return &Initiated{MerchantOrderID: pending.MerchantOrderID, RedirectURL: order.RedirectURL}, nil
}

// HandleCallback settles the pending registration named in a gateway callback.
func (s *Service) HandleCallback(ctx context.Context, status *Status) (*Outcome, error) {
	if status.MerchantTransactionID == "" {
		return nil, apperr.Validationf("Transaction ID missing from response")
	}
	pending, err := s.load(ctx, status.MerchantTransactionID)
	if err != nil {
		return nil, err
	}
	if pending.PaymentStatus == models.PaymentCompleted {
		return completedOutcome(pending), nil
	}
	return s.settle(ctx, pending, status, "payment_callback")
}

// Verify polls the gateway for a pending registration. Calling it again after
// completion returns the same ids.
func (s *Service) Verify(ctx context.Context, merchantOrderID string) (*Outcome, error) {
	if merchantOrderID == "" {
		return nil, apperr.Validationf("Merchant order ID required")
	}
	pending, err := s.load(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}
	if pending.PaymentStatus == models.PaymentCompleted {
		return completedOutcome(pending), nil
	}

	status, err := s.gateway.CheckStatus(ctx, merchantOrderID)
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to check payment status")
	}
	return s.settle(ctx, pending, status, "payment_verify")
}

func (s *Service) load(ctx context.Context, merchantOrderID string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	err := s.db.WithContext(ctx).First(&pending, "merchant_order_id = ?", merchantOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("Pending registration not found")
	}
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to load pending registration")
	}
	return &pending, nil
}

func completedOutcome(p *models.PendingRegistration) *Outcome {
	return &Outcome{
		MerchantOrderID: p.MerchantOrderID,
		Source:          p.Source,
		State:           StateCompleted,
		Completed:       true,
		MemberID:        p.MemberID,
		RegistrationID:  p.RegistrationID,
		Message:         "Payment already processed",
	}
}

func (s *Service) settle(ctx context.Context, pending *models.PendingRegistration, status *Status, actorID string) (*Outcome, error) {
	out := &Outcome{
		MerchantOrderID: pending.MerchantOrderID,
		Source:          pending.Source,
		State:           status.State,
	}

	switch {
	case status.Paid():
		return s.complete(ctx, pending, status, actorID)

	case status.Pending() && s.now().Before(pending.ExpiresAt):
		out.State = StatePending
		out.Message = "Payment pending"
		return out, nil

	default:
		reason := status.Code
		if status.Pending() {
			reason = "expired"
			out.State = StateFailed
		}
		if out.State == "" {
			out.State = StateFailed
		}
		s.markFailed(ctx, pending.MerchantOrderID, out.State, reason)
		s.metrics.Payment("failed")
		s.logger.Info("payment not completed",
			zap.String("merchant_order_id", pending.MerchantOrderID),
			zap.String("code", status.Code),
			zap.String("state", status.State))
		out.Message = "Payment " + strings.ToLower(out.State)
		return out, nil
	}
}

func (s *Service) complete(ctx context.Context, pending *models.PendingRegistration, status *Status, actorID string) (*Outcome, error) {
	var form registration.Form
	if err := json.Unmarshal(pending.FormData, &form); err != nil {
		return nil, apperr.Dependency(err, "Pending registration form is unreadable")
	}

	paymentID := status.TransactionID
	if paymentID == "" {
		paymentID = pending.MerchantOrderID
	}

	issued, err := s.registrations.Create(ctx, registration.Input{
		Form:              form,
		Type:              pending.RegistrationType,
		Amount:            pending.Amount,
		PaymentStatus:     models.PaymentCompleted,
		PaymentMethod:     registration.PaymentMethodPhonePe,
		TransactionID:     pending.MerchantOrderID,
		CollectedFaithbox: pending.CollectedFaithbox,
		RegisteredBy:      pending.RegisteredBy,
		Actor:             audit.System(actorID),
		PendingOrderID:    pending.MerchantOrderID,
		Payment: &models.Payment{
			PaymentID:       paymentID,
			Amount:          pending.Amount,
			PaymentMethod:   registration.PaymentMethodPhonePe,
			PaymentStatus:   models.PaymentCompleted,
			GatewayResponse: status.Raw,
		},
	})
	if errors.Is(err, registration.ErrAlreadyCompleted) {
		done, err := s.load(ctx, pending.MerchantOrderID)
		if err != nil {
			return nil, err
		}
		return completedOutcome(done), nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.Payment("completed")
	return &Outcome{
		MerchantOrderID: pending.MerchantOrderID,
		Source:          pending.Source,
		State:           StateCompleted,
		Completed:       true,
		MemberID:        issued.MemberID,
		RegistrationID:  issued.RegistrationID,
		Message:         "Registration successful",
	}, nil
}

func (s *Service) markFailed(ctx context.Context, merchantOrderID, state, reason string) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.PendingRegistration{}).
		Where("merchant_order_id = ? AND payment_status <> ?", merchantOrderID, models.PaymentCompleted).
		Updates(map[string]any{
			"payment_status": models.PaymentFailed,
			"payment_state":  state,
			"failure_reason": reason,
			"updated_at":     s.now().UTC(),
		}).Error
	if err != nil {
		s.logger.Error("failed to mark pending registration failed",
			zap.String("merchant_order_id", merchantOrderID), zap.Error(err))
	}
}
