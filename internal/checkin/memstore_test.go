package checkin

import (
	"context"
	"sync"
	"time"

	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/models"
)

// memStore is an in-process Store with the same commit-if-unchanged rules as
// the database store, plus hooks to inject conflicts and interrupted commits.
type memStore struct {
	mu      sync.Mutex
	regs    map[string]models.Registration
	counter models.Counter

	conflictsLeft int
	failCommit    error

	firstPrintCommits int
	reprintCommits    int
}

func newMemStore(campID string, start int64, ids ...string) *memStore {
	s := &memStore{
		regs:    make(map[string]models.Registration),
		counter: models.Counter{Name: models.AttendedCounter(campID), Value: start, Version: 1},
	}
	for _, id := range ids {
		s.regs[id] = models.Registration{
			RegistrationID:   id,
			CampID:           campID,
			AttendanceStatus: models.AttendanceRegistered,
		}
	}
	return s
}

func (s *memStore) LoadRegistration(_ context.Context, campID, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok || reg.CampID != campID {
		return nil, apperr.NotFoundf("Registration not found")
	}
	return &reg, nil
}

func (s *memStore) LoadCounter(context.Context, string) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter, nil
}

func (s *memStore) CommitFirstPrint(_ context.Context, fp FirstPrint) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		return Conflict, s.failCommit
	}
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return Conflict, nil
	}

	reg, ok := s.regs[fp.RegistrationID]
	if !ok || reg.GroupName != nil || s.counter.Version != fp.Counter.Version {
		return Conflict, nil
	}

	group, next, at := fp.Group, fp.Next, fp.At
	reg.GroupName = &group
	reg.AttendedNumber = &next
	reg.AttendanceStatus = models.AttendanceCheckedIn
	reg.IDCardPrinted = true
	reg.IDCardPrintedAt = &at
	applyCollected(&reg, fp.CollectedItem, at)
	s.regs[fp.RegistrationID] = reg

	s.counter.Value = next
	s.counter.Version++
	s.firstPrintCommits++
	return Committed, nil
}

func (s *memStore) CommitReprint(_ context.Context, rp Reprint) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[rp.RegistrationID]
	if !ok || reg.GroupName == nil {
		return Conflict, nil
	}
	at := rp.At
	reg.IDCardPrintedAt = &at
	applyCollected(&reg, rp.CollectedItem, at)
	s.regs[rp.RegistrationID] = reg
	s.reprintCommits++
	return Committed, nil
}

func (s *memStore) snapshot(id string) (models.Registration, models.Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[id], s.counter
}

func applyCollected(reg *models.Registration, collected *bool, at time.Time) {
	if collected == nil {
		return
	}
	v := *collected
	reg.CollectedFaithbox = &v
	if v {
		reg.FaithboxCollectedAt = &at
	} else {
		reg.FaithboxCollectedAt = nil
	}
}
