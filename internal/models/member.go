package models

import (
	"time"

	"gorm.io/gorm"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// MemberProfile holds the optional questionnaire answers collected at registration.
type MemberProfile struct {
	DOB                   *string `json:"dob,omitempty"`
	FatherName            *string `json:"fathername,omitempty"`
	MarriageStatus        *string `json:"marriage_status,omitempty"`
	BaptismDate           *string `json:"baptism_date,omitempty"`
	CampParticipatedSince *string `json:"camp_participated_since,omitempty"`
	Education             *string `json:"education,omitempty"`
	Occupation            *string `json:"occupation,omitempty"`
	FutureGoals           *string `json:"future_goals,omitempty"`
	CurrentSkills         *string `json:"current_skills,omitempty"`
	DesiredSkills         *string `json:"desired_skills,omitempty"`
}

type Member struct {
	ID        uint           `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	MemberID    string `json:"member_id" gorm:"uniqueIndex;size:32"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number" gorm:"index"`
	Gender      Gender `json:"gender"`
	Age         int    `json:"age"`
	Believer    bool   `json:"believer"`
	ChurchName  string `json:"church_name"`
	Address     string `json:"address"`

	MemberProfile `gorm:"embedded"`

	// Comma separated camp ids.
	RegisteredCamps    string `json:"registered_camps"`
	LastRegisteredCamp string `json:"last_registered_camp"`
}
