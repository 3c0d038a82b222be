package registration

import (
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"github.com/yescateam/camp-desk-api/internal/models"
)

// Category is a registration type with its listed fee and the smallest amount
// the front desk may accept for it, in rupees.
type Category struct {
	Type    models.RegistrationType `json:"type"`
	Fee     int                     `json:"fee"`
	Minimum int                     `json:"minimum"`
}

var categories = map[models.RegistrationType]Category{
	models.RegistrationNormal:   {Type: models.RegistrationNormal, Fee: 500, Minimum: 300},
	models.RegistrationFaithbox: {Type: models.RegistrationFaithbox, Fee: 250, Minimum: 50},
	models.RegistrationKids:     {Type: models.RegistrationKids, Fee: 300, Minimum: 300},
}

func CategoryFor(t models.RegistrationType) (Category, error) {
	c, ok := categories[t]
	if !ok {
		return Category{}, apperr.Validationf("Invalid registration type %q", t)
	}
	return c, nil
}

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		categories[models.RegistrationNormal],
		categories[models.RegistrationFaithbox],
		categories[models.RegistrationKids],
	}
}

func (c Category) CheckAmount(amount int) error {
	if amount < c.Minimum {
		return apperr.Validationf("Minimum amount for %s is ₹%d", c.Type, c.Minimum)
	}
	return nil
}
