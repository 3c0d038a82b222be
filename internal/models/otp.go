package models

import "time"

type OTPVerification struct {
	PhoneNumber string    `gorm:"primaryKey;size:20"`
	CodeHash    string    `gorm:"not null"`
	Method      string    `gorm:"size:16"`
	Verified    bool      `gorm:"not null;default:false"`
	Attempts    int       `gorm:"not null;default:0"`
	IPAddress   string    `gorm:"size:64"`
	ExpiresAt   time.Time `gorm:"not null"`
	// Unix milliseconds of the most recent send requests, comma separated.
	RequestHistory string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
