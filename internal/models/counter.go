package models

import "time"

// Counter is a named monotonic sequence. Version is bumped on every write so
// concurrent issuers can detect a lost race.
type Counter struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	Version   int64     `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

const MemberCounter = "members"

func RegistrationCounter(campID string) string {
	return campID + ":registrations"
}

func AttendedCounter(campID string) string {
	return campID + ":attended"
}
