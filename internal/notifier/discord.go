package notifier

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/models"
)

// DiscordNotifier posts new registrations to the staff channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordNotifier(cfg *config.Config) (*DiscordNotifier, error) {
	if cfg.DiscordBotToken == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}
	if cfg.DiscordNotificationsChannelID == "" {
		return nil, fmt.Errorf("discord channel ID is empty")
	}
	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: cfg.DiscordNotificationsChannelID}, nil
}

func (n *DiscordNotifier) NotifyRegistration(ctx context.Context, member models.Member, reg models.Registration) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	_, err := n.session.ChannelMessageSend(n.channelID, formatRegistration(member, reg), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func formatRegistration(member models.Member, reg models.Registration) string {
	payment := fmt.Sprintf("%s ₹%d", reg.PaymentStatus, reg.PaymentAmount)
	if reg.PaymentMethod != "" {
		payment += " via " + reg.PaymentMethod
	}

	noteStr := ""
	if reg.Note != "" {
		noteStr = fmt.Sprintf("\n**Note:** %s", reg.Note)
	}

	return fmt.Sprintf("🎉 **New Registration** `%s` (#%d)\n**Name:** %s (%s)\n**Church:** %s\n**Category:** %s\n**Payment:** %s\n**Registered by:** %s%s",
		reg.RegistrationID,
		reg.RegistrationNumber,
		reg.FullName,
		member.MemberID,
		member.ChurchName,
		reg.RegistrationType,
		payment,
		reg.RegisteredBy,
		noteStr,
	)
}
