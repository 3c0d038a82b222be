package models

import (
	"gorm.io/gorm"
)

// RegistrationHistory is a full snapshot of a registration's editable fields,
// written in the same transaction as every admin edit.
type RegistrationHistory struct {
	gorm.Model
	RegistrationID     string `gorm:"index:idx_history_reg;size:32"`
	CampID             string `gorm:"index:idx_history_reg;size:16"`
	ChangedBy          string `gorm:"size:128"`
	Reason             string `gorm:"size:200"`
	RegistrationFields `gorm:"embedded"`
}
