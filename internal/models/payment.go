package models

import (
	"encoding/json"
	"time"
)

type PendingSource string

const (
	SourceOnline    PendingSource = "online"
	SourceFrontdesk PendingSource = "frontdesk"
)

// PendingRegistration holds a submitted form while the payment gateway
// collects the fee. It is keyed by the merchant order id sent to the gateway.
type PendingRegistration struct {
	MerchantOrderID   string           `json:"merchant_order_id" gorm:"primaryKey;size:64"`
	CampID            string           `json:"camp_id"`
	Source            PendingSource    `json:"source"`
	RegistrationType  RegistrationType `json:"registration_type"`
	Amount            int              `json:"amount"`
	FormData          json.RawMessage  `json:"form_data" gorm:"type:text"`
	CollectedFaithbox *bool            `json:"collected_faithbox"`
	RegisteredBy      string           `json:"registered_by"`

	PaymentStatus  PaymentStatus `json:"payment_status"`
	PaymentState   string        `json:"payment_state"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	MemberID       string        `json:"member_id,omitempty"`
	RegistrationID string        `json:"registration_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Payment struct {
	PaymentID       string          `json:"payment_id" gorm:"primaryKey;size:64"`
	RegistrationID  string          `json:"registration_id" gorm:"index"`
	MemberID        string          `json:"member_id"`
	Amount          int             `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PhoneNumber     string          `json:"phone_number"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at"`
}
