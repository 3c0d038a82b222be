// Package checkin assigns attendance numbers and teams when a registration's
// ID card is printed at the front desk.
//
// The first print of a registration takes the next value from the camp's
// attendance counter and derives the team from it. The counter write and the
// registration write commit together; when either changed underneath us the
// whole attempt is thrown away and rerun from a fresh read. Later prints only
// refresh the print timestamp and the collected-item flag.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/models"
	"go.uber.org/zap"
)

const (
	ActionGenerated   = "id_card_generated"
	ActionRegenerated = "id_card_regenerated"

	DefaultMaxAttempts = 5
)

var errConflict = errors.New("check-in conflict")

type Request struct {
	RegistrationID string
	// CollectedItem is nil when the flag does not apply to the registration.
	CollectedItem *bool
	Actor         audit.Actor
}

type Result struct {
	GroupName      string
	AttendedNumber int64
	IsReprint      bool
}

type Sequencer struct {
	store       Store
	recorder    audit.Recorder
	campID      string
	roster      []string
	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

type Option func(*Sequencer)

// WithMaxAttempts bounds how many times a conflicting first print is rerun.
func WithMaxAttempts(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(s *Sequencer) { s.newBackOff = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

func NewSequencer(store Store, recorder audit.Recorder, campID string, roster []string, opts ...Option) (*Sequencer, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("team roster is empty")
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}

	s := &Sequencer{
		store:       store,
		recorder:    recorder,
		campID:      campID,
		roster:      append([]string(nil), roster...),
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 400 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

type outcome struct {
	Result
	beforeGroup    *string
	beforeAttended *int64
}

// Print runs one ID-card print for a registration.
func (s *Sequencer) Print(ctx context.Context, req Request) (*Result, error) {
	req.RegistrationID = strings.TrimSpace(req.RegistrationID)
	if req.RegistrationID == "" {
		return nil, apperr.Validationf("Missing registration_id")
	}
	if req.Actor.ID == "" {
		req.Actor = audit.Actor{Type: audit.ActorAdmin, ID: "front_desk"}
	}

	var out *outcome
	op := func() error {
		o, err := s.attempt(ctx, req)
		if errors.Is(err, errConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		out = o
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.metrics.CheckInConflict()
		s.logger.Warn("check-in conflicted, retrying",
			zap.String("registration_id", req.RegistrationID),
			zap.Duration("wait", wait))
	})
	if errors.Is(err, errConflict) {
		return nil, apperr.Conflictf("Registration %s is being updated concurrently, please retry", req.RegistrationID)
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, req, out)
	s.metrics.CheckIn(out.IsReprint)
	s.logger.Info("id card printed",
		zap.String("registration_id", req.RegistrationID),
		zap.String("group_name", out.GroupName),
		zap.Int64("attended_number", out.AttendedNumber),
		zap.Bool("is_regenerate", out.IsReprint))

	return &out.Result, nil
}

func (s *Sequencer) attempt(ctx context.Context, req Request) (*outcome, error) {
	reg, err := s.store.LoadRegistration(ctx, s.campID, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if reg.GroupName != nil {
		res, err := s.store.CommitReprint(ctx, Reprint{
			CampID:         s.campID,
			RegistrationID: req.RegistrationID,
			CollectedItem:  req.CollectedItem,
			At:             now,
		})
		if err != nil {
			return nil, err
		}
		if res == Conflict {
			return nil, errConflict
		}

		o := &outcome{
			Result:         Result{GroupName: *reg.GroupName, IsReprint: true},
			beforeGroup:    reg.GroupName,
			beforeAttended: reg.AttendedNumber,
		}
		if reg.AttendedNumber != nil {
			o.AttendedNumber = *reg.AttendedNumber
		}
		return o, nil
	}

	counter, err := s.store.LoadCounter(ctx, models.AttendedCounter(s.campID))
	if err != nil {
		return nil, err
	}
	next := counter.Value + 1
	group, err := LabelFor(next, s.roster)
	if err != nil {
		return nil, err
	}

	res, err := s.store.CommitFirstPrint(ctx, FirstPrint{
		CampID:         s.campID,
		RegistrationID: req.RegistrationID,
		Counter:        counter,
		Next:           next,
		Group:          group,
		CollectedItem:  req.CollectedItem,
		At:             now,
	})
	if err != nil {
		return nil, err
	}
	if res == Conflict {
		return nil, errConflict
	}

	return &outcome{Result: Result{GroupName: group, AttendedNumber: next}}, nil
}

func (s *Sequencer) record(ctx context.Context, req Request, o *outcome) {
	action := ActionGenerated
	if o.IsReprint {
		action = ActionRegenerated
	}

	details := map[string]any{
		"group_name":      o.GroupName,
		"attended_number": o.AttendedNumber,
		"is_regenerate":   o.IsReprint,
		"before": map[string]any{
			"group_name":      o.beforeGroup,
			"attended_number": o.beforeAttended,
		},
	}
	if req.CollectedItem != nil {
		details["collected_faithbox"] = *req.CollectedItem
	}

	s.recorder.Record(ctx, audit.Entry{
		Action:       action,
		ResourceType: "registration",
		ResourceID:   req.RegistrationID,
		Actor:        req.Actor,
		Details:      details,
		Timestamp:    s.now().UTC(),
	})
}
