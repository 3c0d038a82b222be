package registration

import (
	"strings"

	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/phone"
)

// Form is the participant questionnaire shared by online and front-desk
// registration.
type Form struct {
	FullName    string        `json:"full_name,omitempty" doc:"Participant's full name"`
	PhoneNumber string        `json:"phone_number,omitempty" doc:"Indian mobile number"`
	Gender      models.Gender `json:"gender,omitempty" enum:"M,F"`
	Age         int           `json:"age,omitempty" minimum:"0"`
	Believer    string        `json:"believer,omitempty" enum:"yes,no"`
	ChurchName  string        `json:"church_name,omitempty"`
	Address     string        `json:"address,omitempty"`
	models.MemberProfile
}

// Normalize trims the form, puts the phone number in +91 form and rejects
// incomplete submissions.
func (f *Form) Normalize() error {
	f.FullName = strings.TrimSpace(f.FullName)
	f.ChurchName = strings.TrimSpace(f.ChurchName)
	f.Address = strings.TrimSpace(f.Address)

	if f.FullName == "" || f.PhoneNumber == "" || f.Gender == "" || f.Age == 0 || f.ChurchName == "" || f.Address == "" {
		return apperr.Validationf("Missing required fields")
	}

	normalized := phone.Normalize(f.PhoneNumber)
	if normalized == "" {
		return apperr.Validationf("Invalid Indian phone number. Must be 10 digits starting with 6-9.")
	}
	f.PhoneNumber = normalized

	if f.Gender != models.GenderMale && f.Gender != models.GenderFemale {
		return apperr.Validationf("Invalid gender")
	}
	if f.Age < 1 || f.Age > 120 {
		return apperr.Validationf("Invalid age")
	}
	if f.Believer != "" && f.Believer != "yes" && f.Believer != "no" {
		return apperr.Validationf("believer must be yes or no")
	}
	return nil
}

func (f *Form) member(memberID, campID string) models.Member {
	return models.Member{
		MemberID:           memberID,
		FullName:           f.FullName,
		PhoneNumber:        f.PhoneNumber,
		Gender:             f.Gender,
		Age:                f.Age,
		Believer:           f.Believer == "yes",
		ChurchName:         f.ChurchName,
		Address:            f.Address,
		MemberProfile:      f.MemberProfile,
		RegisteredCamps:    campID,
		LastRegisteredCamp: campID,
	}
}
