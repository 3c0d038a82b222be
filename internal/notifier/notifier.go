// Package notifier tells people about new registrations. Every notifier is
// best effort: callers log the error and carry on.
package notifier

import (
	"context"
	"errors"
	"strings"

	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/whatsapp"
)

type Notifier interface {
	NotifyRegistration(ctx context.Context, member models.Member, reg models.Registration) error
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyRegistration(ctx context.Context, member models.Member, reg models.Registration) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyRegistration(ctx, member, reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) NotifyRegistration(context.Context, models.Member, models.Registration) error { return nil }

type confirmationSender interface {
	SendRegistrationConfirmation(ctx context.Context, to, name, memberID, loginURL string) (string, error)
}

// WhatsAppNotifier sends the participant their confirmation and member id.
type WhatsAppNotifier struct {
	client   confirmationSender
	loginURL string
}

func NewWhatsAppNotifier(client *whatsapp.Client, publicURL string) *WhatsAppNotifier {
	return &WhatsAppNotifier{client: client, loginURL: strings.TrimRight(publicURL, "/") + "/profile"}
}

func (n *WhatsAppNotifier) NotifyRegistration(ctx context.Context, member models.Member, reg models.Registration) error {
	_, err := n.client.SendRegistrationConfirmation(ctx, reg.PhoneNumber, reg.FullName, member.MemberID, n.loginURL)
	return err
}
