// Package otp verifies participant phone numbers with one-time codes sent
// over WhatsApp.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/phone"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	CodeLength  = 6
	MaxAttempts = 5

	ActionSent     = "whatsapp_otp_sent"
	ActionVerified = "phone_verified"

	methodWhatsApp = "whatsapp"
	historySize    = 10
)

// Sender delivers a code to a phone number and returns the provider message id.
type Sender interface {
	SendOTP(ctx context.Context, to, code string) (string, error)
}

// TokenIssuer turns a verified phone number into a bearer token.
type TokenIssuer interface {
	IssuePhoneToken(phoneNumber string) (string, error)
}

type Service struct {
	db         *gorm.DB
	sender     Sender
	tokens     TokenIssuer
	recorder   audit.Recorder
	metrics    *metrics.Metrics
	logger     *zap.Logger
	ttl        time.Duration
	maxPerHour int
	cost       int
	now        func() time.Time
	newCode    func() (string, error)
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLimits overrides the code lifetime and the hourly send cap.
func WithLimits(ttl time.Duration, maxPerHour int) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if maxPerHour > 0 {
			s.maxPerHour = maxPerHour
		}
	}
}

// WithBcryptCost is for tests; production uses bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithCodeGenerator(f func() (string, error)) Option {
	return func(s *Service) { s.newCode = f }
}

func NewService(db *gorm.DB, sender Sender, tokens TokenIssuer, recorder audit.Recorder, opts ...Option) *Service {
	s := &Service{
		db:         db,
		sender:     sender,
		tokens:     tokens,
		recorder:   recorder,
		logger:     zap.NewNop(),
		ttl:        5 * time.Minute,
		maxPerHour: 5,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
		newCode:    RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RandomCode returns a uniformly random zero-padded 6 digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

type Sent struct {
	PhoneNumber string `json:"phone_number"`
	ExpiresIn   int    `json:"expires_in"`
	MessageID   string `json:"message_id,omitempty"`
}

// Send issues a fresh code for the number unless one is still live or the
// hourly cap is reached.
func (s *Service) Send(ctx context.Context, rawPhone, ip string) (*Sent, error) {
	number := phone.Normalize(rawPhone)
	if number == "" {
		return nil, apperr.Validationf("Invalid Indian phone number. Must be 10 digits starting with 6-9.")
	}
	now := s.now()

	var existing models.OTPVerification
	err := s.db.WithContext(ctx).First(&existing, "phone_number = ?", number).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Dependency(err, "Failed to load OTP state")
	}

	var history []int64
	if found {
		history = parseHistory(existing.RequestHistory)
		hourAgo := now.Add(-time.Hour).UnixMilli()
		recent := 0
		for _, t := range history {
			if t > hourAgo {
				recent++
			}
		}
		if recent >= s.maxPerHour {
			s.metrics.OTP("rate_limited")
			return nil, apperr.RateLimitedf("Too many OTP requests. Please try again after an hour.")
		}
		if !existing.Verified && existing.ExpiresAt.After(now) {
			s.metrics.OTP("rate_limited")
			wait := int(existing.ExpiresAt.Sub(now).Seconds() + 0.999)
			return nil, apperr.RateLimitedf("Please wait %d seconds before requesting a new OTP.", wait)
		}
	}

	code, err := s.newCode()
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to generate OTP")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to generate OTP")
	}

	history = append(history, now.UnixMilli())
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	record := models.OTPVerification{
		PhoneNumber:    number,
		CodeHash:       string(hash),
		Method:         methodWhatsApp,
		Verified:       false,
		Attempts:       0,
		IPAddress:      ip,
		ExpiresAt:      now.Add(s.ttl),
		RequestHistory: formatHistory(history),
	}
	if found {
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return nil, apperr.Dependency(err, "Failed to store OTP")
	}

	msgID, err := s.sender.SendOTP(ctx, number, code)
	if err != nil {
		s.logger.Error("failed to send WhatsApp OTP", zap.String("phone", number), zap.Error(err))
		if derr := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&models.OTPVerification{}, "phone_number = ?", number).Error; derr != nil {
			s.logger.Error("failed to discard unsent OTP", zap.String("phone", number), zap.Error(derr))
		}
		s.metrics.OTP("send_failed")
		return nil, apperr.Dependency(err, "Failed to send OTP via WhatsApp")
	}

	s.metrics.OTP("sent")
	s.recorder.Record(ctx, audit.Entry{
		Action:       ActionSent,
		ResourceType: "authentication",
		ResourceID:   number,
		Actor:        audit.System("otp_service"),
		Details: map[string]any{
			"method":     methodWhatsApp,
			"ip_address": ip,
			"message_id": msgID,
		},
		Timestamp: now,
	})

	return &Sent{PhoneNumber: number, ExpiresIn: int(s.ttl.Seconds()), MessageID: msgID}, nil
}

// Verify checks a code and, on success, returns a phone-verification token.
func (s *Service) Verify(ctx context.Context, rawPhone, code string) (string, error) {
	number := phone.Normalize(rawPhone)
	code = strings.TrimSpace(code)
	if number == "" || code == "" {
		return "", apperr.Validationf("Phone number and OTP are required")
	}

	var record models.OTPVerification
	err := s.db.WithContext(ctx).First(&record, "phone_number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFoundf("No OTP requested for this number")
	}
	if err != nil {
		return "", apperr.Dependency(err, "Failed to load OTP state")
	}

	if record.Verified {
		return "", apperr.Validationf("OTP already used. Please request a new one.")
	}
	if !record.ExpiresAt.After(s.now()) {
		return "", apperr.Validationf("OTP expired. Please request a new one.")
	}
	if record.Attempts >= MaxAttempts {
		return "", apperr.RateLimitedf("Too many incorrect attempts. Please request a new OTP.")
	}

	// Count the attempt before comparing so parallel guesses share the budget.
	res := s.db.WithContext(ctx).Model(&models.OTPVerification{}).
		Where("phone_number = ? AND attempts < ?", number, MaxAttempts).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return "", apperr.Dependency(res.Error, "Failed to update OTP state")
	}
	if res.RowsAffected == 0 {
		return "", apperr.RateLimitedf("Too many incorrect attempts. Please request a new OTP.")
	}

	if bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)) != nil {
		s.metrics.OTP("invalid")
		left := MaxAttempts - record.Attempts - 1
		return "", apperr.Validationf("Invalid OTP. %d attempts remaining.", left)
	}

	res = s.db.WithContext(ctx).Model(&models.OTPVerification{}).
		Where("phone_number = ? AND verified = ?", number, false).
		Update("verified", true)
	if res.Error != nil {
		return "", apperr.Dependency(res.Error, "Failed to update OTP state")
	}
	if res.RowsAffected == 0 {
		return "", apperr.Validationf("OTP already used. Please request a new one.")
	}

	token, err := s.tokens.IssuePhoneToken(number)
	if err != nil {
		return "", apperr.Dependency(err, "Failed to issue verification token")
	}

	s.metrics.OTP("verified")
	s.recorder.Record(ctx, audit.Entry{
		Action:       ActionVerified,
		ResourceType: "authentication",
		ResourceID:   number,
		Actor:        audit.Actor{Type: audit.ActorMember, ID: number},
		Details:      map[string]any{"method": record.Method, "attempts": record.Attempts + 1},
		Timestamp:    s.now(),
	})
	return token, nil
}

func parseHistory(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if t, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func formatHistory(h []int64) string {
	parts := make([]string, len(h))
	for i, t := range h {
		parts[i] = strconv.FormatInt(t, 10)
	}
	return strings.Join(parts, ",")
}
