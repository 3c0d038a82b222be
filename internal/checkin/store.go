package checkin

import (
	"context"
	"time"

	"github.com/yescateam/camp-desk-api/internal/models"
)

// TxResult is the outcome of a conditional commit.
type TxResult int

const (
	// Committed means every write in the unit was applied.
	Committed TxResult = iota
	// Conflict means the state read before the commit had changed; nothing was applied.
	Conflict
)

func (r TxResult) String() string {
	switch r {
	case Committed:
		return "committed"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// FirstPrint is the assignment written on a registration's first ID-card print.
type FirstPrint struct {
	CampID         string
	RegistrationID string
	// Counter is the attendance counter as read; the commit only applies if it is unchanged.
	Counter       models.Counter
	Next          int64
	Group         string
	CollectedItem *bool
	At            time.Time
}

// Reprint touches a registration that already holds an assignment.
type Reprint struct {
	CampID         string
	RegistrationID string
	CollectedItem  *bool
	At             time.Time
}

// Store is the transactional boundary the sequencer runs against.
//
// CommitFirstPrint must apply the registration update and the counter write
// together or not at all, and must return Conflict (not an error) when the
// registration already has a group or the counter moved since it was read.
type Store interface {
	LoadRegistration(ctx context.Context, campID, registrationID string) (*models.Registration, error)
	LoadCounter(ctx context.Context, name string) (models.Counter, error)
	CommitFirstPrint(ctx context.Context, fp FirstPrint) (TxResult, error)
	CommitReprint(ctx context.Context, rp Reprint) (TxResult, error)
}
