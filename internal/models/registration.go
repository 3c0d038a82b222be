package models

import (
	"time"

	"gorm.io/gorm"
)

type RegistrationType string

const (
	RegistrationNormal   RegistrationType = "normal"
	RegistrationFaithbox RegistrationType = "faithbox"
	RegistrationKids     RegistrationType = "kids"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type AttendanceStatus string

const (
	AttendanceRegistered AttendanceStatus = "registered"
	AttendanceCheckedIn  AttendanceStatus = "checked_in"
)

// RegistrationFields are the admin-editable fields, snapshotted into
// RegistrationHistory on every edit.
type RegistrationFields struct {
	FullName         string           `json:"full_name"`
	PhoneNumber      string           `json:"phone_number"`
	RegistrationType RegistrationType `json:"registration_type"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	PaymentAmount    int              `json:"payment_amount"`
	Note             string           `json:"note"`
}

type Registration struct {
	gorm.Model
	RegistrationID     string `json:"registration_id" gorm:"uniqueIndex;size:32"`
	MemberID           string `json:"member_id" gorm:"index;size:32"`
	CampID             string `json:"camp_id" gorm:"size:16;index;uniqueIndex:idx_camp_attended"`
	RegistrationFields `gorm:"embedded"`

	PaymentMethod        string `json:"payment_method"`
	PaymentTransactionID string `json:"payment_transaction_id"`
	RegisteredBy         string `json:"registered_by"`
	RegistrationNumber   int64  `json:"registration_number"`

	// Assignment fields stay nil until the first ID-card print and are never
	// cleared afterwards.
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	GroupName        *string          `json:"group_name"`
	AttendedNumber   *int64           `json:"attended_number" gorm:"uniqueIndex:idx_camp_attended"`
	IDCardPrinted    bool             `json:"id_card_printed"`
	IDCardPrintedAt  *time.Time       `json:"id_card_printed_at"`

	CollectedFaithbox   *bool      `json:"collected_faithbox"`
	FaithboxCollectedAt *time.Time `json:"faithbox_collected_at"`
}

// UsesFaithbox reports whether the collected-faithbox flag applies.
func (r *Registration) UsesFaithbox() bool {
	return r.RegistrationType == RegistrationFaithbox
}
