package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseDSN    string `mapstructure:"DATABASE_DSN"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	EnableCORS     bool   `mapstructure:"ENABLE_CORS"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	FrontendURL    string `mapstructure:"FRONTEND_URL"`
	PublicURL      string `mapstructure:"PUBLIC_URL"`

	CampID             string   `mapstructure:"CAMP_ID"`
	TeamRoster         []string `mapstructure:"TEAM_ROSTER"`
	CheckinMaxAttempts int      `mapstructure:"CHECKIN_MAX_ATTEMPTS"`

	DiscordClientID               string   `mapstructure:"DISCORD_CLIENT_ID"`
	DiscordClientSecret           string   `mapstructure:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL            string   `mapstructure:"DISCORD_REDIRECT_URL"`
	DiscordBotToken               string   `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string   `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	SuperAdminDiscordIDs          []string `mapstructure:"SUPER_ADMIN_DISCORD_IDS"`

	PhonePeMerchantID string `mapstructure:"PHONEPE_MERCHANT_ID"`
	PhonePeSaltKey    string `mapstructure:"PHONEPE_SALT_KEY"`
	PhonePeSaltIndex  string `mapstructure:"PHONEPE_SALT_INDEX"`
	PhonePeBaseURL    string `mapstructure:"PHONEPE_BASE_URL"`

	WhatsAppAccessToken        string `mapstructure:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID      string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAPIVersion         string `mapstructure:"WHATSAPP_API_VERSION"`
	WhatsAppBaseURL            string `mapstructure:"WHATSAPP_BASE_URL"`
	WhatsAppSuccessTemplate    string `mapstructure:"WHATSAPP_SUCCESS_TEMPLATE_NAME"`
	WhatsAppOTPTemplate        string `mapstructure:"WHATSAPP_OTP_TEMPLATE_NAME"`
	WhatsAppWebhookVerifyToken string `mapstructure:"WHATSAPP_WEBHOOK_VERIFY_TOKEN"`

	OTPTTL        time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxPerHour int           `mapstructure:"OTP_MAX_PER_HOUR"`
}

func LoadConfig() *Config {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DATABASE_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_DSN", "camp.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("FRONTEND_URL", "http://127.0.0.1:3000")
	viper.SetDefault("PUBLIC_URL", "http://127.0.0.1:8080")
	viper.SetDefault("CAMP_ID", "YC26")
	viper.SetDefault("CHECKIN_MAX_ATTEMPTS", 5)
	viper.SetDefault("DISCORD_REDIRECT_URL", "http://127.0.0.1:8080/auth/discord/callback")
	viper.SetDefault("PHONEPE_BASE_URL", "https://api-preprod.phonepe.com/apis/pg-sandbox")
	viper.SetDefault("PHONEPE_SALT_INDEX", "1")
	viper.SetDefault("WHATSAPP_API_VERSION", "v21.0")
	viper.SetDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com")
	viper.SetDefault("WHATSAPP_SUCCESS_TEMPLATE_NAME", "registration_success")
	viper.SetDefault("WHATSAPP_OTP_TEMPLATE_NAME", "otp_verification")
	viper.SetDefault("OTP_TTL", 5*time.Minute)
	viper.SetDefault("OTP_MAX_PER_HOUR", 5)

	viper.BindEnv("JWT_SECRET")
	viper.BindEnv("ENABLE_CORS")
	viper.BindEnv("TEAM_ROSTER")
	viper.BindEnv("DISCORD_CLIENT_ID")
	viper.BindEnv("DISCORD_CLIENT_SECRET")
	viper.BindEnv("DISCORD_BOT_TOKEN")
	viper.BindEnv("DISCORD_NOTIFICATIONS_CHANNEL_ID")
	viper.BindEnv("SUPER_ADMIN_DISCORD_IDS")
	viper.BindEnv("PHONEPE_MERCHANT_ID")
	viper.BindEnv("PHONEPE_SALT_KEY")
	viper.BindEnv("WHATSAPP_ACCESS_TOKEN")
	viper.BindEnv("WHATSAPP_PHONE_NUMBER_ID")
	viper.BindEnv("WHATSAPP_WEBHOOK_VERIFY_TOKEN")

	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}
