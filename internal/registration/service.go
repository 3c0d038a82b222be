// Package registration issues members and camp registrations.
//
// A registration takes the next value from two counters: the global member
// counter and the camp's registration counter. Both are advanced with a
// compare-and-set inside the same transaction as the inserts, and the whole
// transaction is rerun when another issuer moved either counter first.
package registration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/counters"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/notifier"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionCreated            = "registration_created"
	ActionCreatedWithPayment = "registration_created_with_payment"

	PaymentMethodCash    = "cash"
	PaymentMethodPhonePe = "phonepe"

	RegisteredOnline = "online"

	DefaultMaxAttempts = 5
	regIDAttempts      = 10
)

// ErrAlreadyCompleted is returned when a pending registration was turned into
// a real one by an earlier call.
var ErrAlreadyCompleted = errors.New("pending registration already completed")

var (
	errConflict = errors.New("registration counters changed")
	errRollback = errors.New("rollback: counter changed since read")
)

type Input struct {
	Form              Form
	Type              models.RegistrationType
	Amount            int // rupees; zero means the category fee
	PaymentStatus     models.PaymentStatus
	PaymentMethod     string
	TransactionID     string
	CollectedFaithbox *bool
	RegisteredBy      string
	Actor             audit.Actor

	// Payment, when set, is stored alongside the registration.
	Payment *models.Payment
	// PendingOrderID marks the pending registration this call completes.
	PendingOrderID string
}

type Issued struct {
	MemberID           string `json:"member_id"`
	RegistrationID     string `json:"registration_id"`
	RegistrationNumber int64  `json:"registration_number"`
}

type Service struct {
	db          *gorm.DB
	campID      string
	recorder    audit.Recorder
	notifier    notifier.Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	newRegID    func(campID string) string
}

type Option func(*Service)

func WithNotifier(n notifier.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRegistrationIDs replaces the random registration id generator.
func WithRegistrationIDs(f func(campID string) string) Option {
	return func(s *Service) { s.newRegID = f }
}

func NewService(db *gorm.DB, campID string, recorder audit.Recorder, opts ...Option) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	s := &Service{
		db:          db,
		campID:      campID,
		recorder:    recorder,
		notifier:    notifier.Nop{},
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		now:         time.Now,
		newRegID:    RandomRegistrationID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CampID() string {
	return s.campID
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 400 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// RandomRegistrationID returns the camp id followed by two letters and two
// digits, e.g. YC26QK07.
func RandomRegistrationID(campID string) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return fmt.Sprintf("%s%c%c%02d", campID, letters[rand.IntN(len(letters))], letters[rand.IntN(len(letters))], rand.IntN(100))
}

func MemberID(n int64) string {
	return fmt.Sprintf("YC%06d", n)
}

// Prepare validates an input and fills in its defaults without writing
// anything. Create calls it; payment initiation uses it to reject bad forms
// before talking to the gateway.
func Prepare(in *Input) (Category, error) {
	if err := in.Form.Normalize(); err != nil {
		return Category{}, err
	}
	if in.Type == "" {
		in.Type = models.RegistrationNormal
	}
	cat, err := CategoryFor(in.Type)
	if err != nil {
		return Category{}, err
	}
	if in.Amount == 0 {
		in.Amount = cat.Fee
	}
	if err := cat.CheckAmount(in.Amount); err != nil {
		return Category{}, err
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = models.PaymentPending
	}
	if in.RegisteredBy == "" {
		in.RegisteredBy = RegisteredOnline
	}

	// The faithbox flag only exists for faithbox registrations.
	if in.Type == models.RegistrationFaithbox {
		v := in.CollectedFaithbox != nil && *in.CollectedFaithbox
		in.CollectedFaithbox = &v
	} else {
		in.CollectedFaithbox = nil
	}
	return cat, nil
}

// Create issues a member and a registration for the camp.
func (s *Service) Create(ctx context.Context, in Input) (*Issued, error) {
	if _, err := Prepare(&in); err != nil {
		return nil, err
	}
	if in.Actor.ID == "" {
		in.Actor = audit.System("online_registration")
	}

	var (
		member models.Member
		reg    models.Registration
	)
	op := func() error {
		m, r, err := s.issue(ctx, in)
		if errors.Is(err, errConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		member, reg = m, r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.logger.Warn("registration counters conflicted, retrying", zap.Duration("wait", wait))
	})
	if errors.Is(err, errConflict) {
		return nil, apperr.Conflictf("Registration is busy, please retry")
	}
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, in, member, reg)

	return &Issued{
		MemberID:           member.MemberID,
		RegistrationID:     reg.RegistrationID,
		RegistrationNumber: reg.RegistrationNumber,
	}, nil
}

func (s *Service) issue(ctx context.Context, in Input) (models.Member, models.Registration, error) {
	now := s.now().UTC()
	var (
		member models.Member
		reg    models.Registration
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.PendingOrderID != "" {
			var pending models.PendingRegistration
			err := tx.Select("merchant_order_id", "payment_status").
				First(&pending, "merchant_order_id = ?", in.PendingOrderID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("Pending registration not found")
			}
			if err != nil {
				return err
			}
			if pending.PaymentStatus == models.PaymentCompleted {
				return ErrAlreadyCompleted
			}
		}

		memberCounter, err := counters.Get(ctx, tx, models.MemberCounter)
		if err != nil {
			return err
		}
		regCounter, err := counters.Get(ctx, tx, models.RegistrationCounter(s.campID))
		if err != nil {
			return err
		}

		for _, c := range []models.Counter{memberCounter, regCounter} {
			ok, err := counters.CompareAndSet(tx, c, c.Value+1, now)
			if err != nil {
				return err
			}
			if !ok {
				return errRollback
			}
		}

		regID, err := s.freeRegistrationID(tx)
		if err != nil {
			return err
		}

		member = in.Form.member(MemberID(memberCounter.Value+1), s.campID)
		if err := tx.Create(&member).Error; err != nil {
			return err
		}

		reg = models.Registration{
			RegistrationID: regID,
			MemberID:       member.MemberID,
			CampID:         s.campID,
			RegistrationFields: models.RegistrationFields{
				FullName:         member.FullName,
				PhoneNumber:      member.PhoneNumber,
				RegistrationType: in.Type,
				PaymentStatus:    in.PaymentStatus,
				PaymentAmount:    in.Amount,
			},
			PaymentMethod:        in.PaymentMethod,
			PaymentTransactionID: in.TransactionID,
			RegisteredBy:         in.RegisteredBy,
			RegistrationNumber:   regCounter.Value + 1,
			AttendanceStatus:     models.AttendanceRegistered,
			CollectedFaithbox:    in.CollectedFaithbox,
		}
		if in.CollectedFaithbox != nil && *in.CollectedFaithbox {
			reg.FaithboxCollectedAt = &now
		}
		if err := tx.Create(&reg).Error; err != nil {
			return err
		}

		if in.Payment != nil {
			p := *in.Payment
			p.RegistrationID = reg.RegistrationID
			p.MemberID = member.MemberID
			p.PhoneNumber = member.PhoneNumber
			p.CreatedAt = now
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}

		if in.PendingOrderID != "" {
			res := tx.Model(&models.PendingRegistration{}).
				Where("merchant_order_id = ? AND payment_status <> ?", in.PendingOrderID, models.PaymentCompleted).
				Updates(map[string]any{
					"payment_status":  models.PaymentCompleted,
					"payment_state":   "COMPLETED",
					"failure_reason":  "",
					"member_id":       member.MemberID,
					"registration_id": reg.RegistrationID,
					"completed_at":    now,
					"updated_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return ErrAlreadyCompleted
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return member, reg, nil
	case errors.Is(err, errRollback), errors.Is(err, gorm.ErrDuplicatedKey):
		return member, reg, errConflict
	case errors.Is(err, ErrAlreadyCompleted):
		return member, reg, err
	default:
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return member, reg, err
		}
		return member, reg, apperr.Dependency(err, "Failed to save registration")
	}
}

// freeRegistrationID draws random ids until one is unused, soft-deleted rows
// included.
func (s *Service) freeRegistrationID(tx *gorm.DB) (string, error) {
	for i := 0; i < regIDAttempts; i++ {
		id := s.newRegID(s.campID)
		var n int64
		if err := tx.Unscoped().Model(&models.Registration{}).Where("registration_id = ?", id).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return id, nil
		}
	}
	return "", apperr.Dependency(nil, "Could not allocate a registration id")
}

func (s *Service) afterCommit(ctx context.Context, in Input, member models.Member, reg models.Registration) {
	action := ActionCreated
	details := map[string]any{
		"member_id":         member.MemberID,
		"registration_type": in.Type,
		"full_name":         member.FullName,
		"amount":            in.Amount,
		"registered_by":     in.RegisteredBy,
	}
	if in.Payment != nil {
		action = ActionCreatedWithPayment
		details["transaction_id"] = in.Payment.PaymentID
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:       action,
		ResourceType: "registration",
		ResourceID:   reg.RegistrationID,
		Actor:        in.Actor,
		Details:      details,
		Timestamp:    s.now().UTC(),
	})
	s.metrics.RegistrationCreated(string(in.Type), in.RegisteredBy)
	s.logger.Info("registration created",
		zap.String("registration_id", reg.RegistrationID),
		zap.String("member_id", member.MemberID),
		zap.Int64("registration_number", reg.RegistrationNumber),
		zap.String("registered_by", in.RegisteredBy))

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := s.notifier.NotifyRegistration(nctx, member, reg); err != nil {
		s.logger.Warn("registration notification failed",
			zap.String("registration_id", reg.RegistrationID),
			zap.Error(err))
	}
}
