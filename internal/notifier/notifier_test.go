package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/models"
)

type fakeSender struct {
	to, name, memberID, url string
	err                     error
}

func (f *fakeSender) SendRegistrationConfirmation(_ context.Context, to, name, memberID, loginURL string) (string, error) {
	f.to, f.name, f.memberID, f.url = to, name, memberID, loginURL
	return "wamid.1", f.err
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) NotifyRegistration(context.Context, models.Member, models.Registration) error {
	c.calls++
	return c.err
}

func testRegistration() (models.Member, models.Registration) {
	member := models.Member{MemberID: "YC000007", ChurchName: "Grace Church"}
	reg := models.Registration{
		RegistrationID:     "YC26QK42",
		RegistrationNumber: 12,
		RegisteredBy:       "online",
		PaymentMethod:      "phonepe",
		RegistrationFields: models.RegistrationFields{
			FullName:         "Asha Rao",
			PhoneNumber:      "+919876543210",
			RegistrationType: models.RegistrationFaithbox,
			PaymentStatus:    models.PaymentCompleted,
			PaymentAmount:    250,
		},
	}
	return member, reg
}

func TestWhatsAppNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := &WhatsAppNotifier{client: sender, loginURL: "https://camp.example/profile"}
	member, reg := testRegistration()

	require.NoError(t, n.NotifyRegistration(context.Background(), member, reg))
	assert.Equal(t, "+919876543210", sender.to)
	assert.Equal(t, "Asha Rao", sender.name)
	assert.Equal(t, "YC000007", sender.memberID)
	assert.Equal(t, "https://camp.example/profile", sender.url)
}

func TestMulti_CallsEveryoneAndJoinsErrors(t *testing.T) {
	failing := &countingNotifier{err: errors.New("discord down")}
	ok := &countingNotifier{}
	member, reg := testRegistration()

	err := Multi{failing, nil, ok}.NotifyRegistration(context.Background(), member, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestFormatRegistration(t *testing.T) {
	member, reg := testRegistration()
	reg.Note = "Needs ground floor room"

	msg := formatRegistration(member, reg)
	assert.Contains(t, msg, "YC26QK42")
	assert.Contains(t, msg, "#12")
	assert.Contains(t, msg, "Asha Rao (YC000007)")
	assert.Contains(t, msg, "completed ₹250 via phonepe")
	assert.Contains(t, msg, "**Note:** Needs ground floor room")
}

func TestDiscordNotifier_NilSession(t *testing.T) {
	member, reg := testRegistration()
	err := (&DiscordNotifier{channelID: "1"}).NotifyRegistration(context.Background(), member, reg)
	assert.Error(t, err)
}
