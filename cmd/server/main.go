package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/checkin"
	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/database"
	"github.com/yescateam/camp-desk-api/internal/handlers"
	"github.com/yescateam/camp-desk-api/internal/logging"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/notifier"
	"github.com/yescateam/camp-desk-api/internal/otp"
	"github.com/yescateam/camp-desk-api/internal/payment"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"github.com/yescateam/camp-desk-api/internal/whatsapp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "camp-desk",
		Short:   "Camp registration and front-desk check-in API",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg = config.LoadConfig()
			logger, err := logging.New(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	serve := a.serveCmd()
	rootCmd.RunE = serve.RunE

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.grantRoleCmd())
	rootCmd.AddCommand(a.countersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	m := metrics.New()
	recorder := audit.NewDBRecorder(db, logger.Named("audit"))
	authHandler := auth.NewAuthHandler(cfg, db, logger.Named("auth"))
	wa := whatsapp.NewClient(cfg)

	notifiers := notifier.Multi{}
	if discordNotifier, err := notifier.NewDiscordNotifier(cfg); err != nil {
		logger.Warn("Discord notifier not initialized", zap.Error(err))
	} else {
		notifiers = append(notifiers, discordNotifier)
	}
	if wa.Enabled() {
		notifiers = append(notifiers, notifier.NewWhatsAppNotifier(wa, cfg.FrontendURL))
	} else {
		logger.Warn("WhatsApp is not configured; confirmations and OTPs will fail")
	}

	registrations := registration.NewService(db, cfg.CampID, recorder,
		registration.WithNotifier(notifiers),
		registration.WithMetrics(m),
		registration.WithLogger(logger.Named("registration")))

	phonePe := payment.NewPhonePe(cfg)
	payments := payment.NewService(db, phonePe, registrations, cfg.PublicURL, m, logger.Named("payment"))

	otpOpts := []otp.Option{otp.WithMetrics(m), otp.WithLogger(logger.Named("otp"))}
	if cfg.OTPTTL > 0 && cfg.OTPMaxPerHour > 0 {
		otpOpts = append(otpOpts, otp.WithLimits(cfg.OTPTTL, cfg.OTPMaxPerHour))
	}
	otps := otp.NewService(db, wa, authHandler, recorder, otpOpts...)

	roster := checkin.DefaultRoster
	if len(cfg.TeamRoster) > 0 {
		roster = cfg.TeamRoster
	}
	sequencer, err := checkin.NewSequencer(checkin.NewGormStore(db), recorder, cfg.CampID, roster,
		checkin.WithMaxAttempts(cfg.CheckinMaxAttempts),
		checkin.WithMetrics(m),
		checkin.WithLogger(logger.Named("checkin")))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	handlers.RegisterRoutes(r, cfg, &handlers.Handlers{
		Auth:         authHandler,
		Registration: handlers.NewRegistrationHandler(registrations, payments, phonePe, authHandler, cfg.FrontendURL, logger.Named("http")),
		OTP:          handlers.NewOTPHandler(otps, authHandler, logger.Named("http")),
		CheckIn:      handlers.NewCheckInHandler(sequencer, authHandler, logger.Named("http")),
		Admin:        handlers.NewAdminHandler(db, cfg.CampID, recorder, authHandler, logger.Named("http")),
		APIKeys:      handlers.NewAPIKeyHandler(db, authHandler),
		Webhook:      whatsapp.NewWebhook(cfg.WhatsAppWebhookVerifyToken, logger.Named("whatsapp")),
		Metrics:      m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("camp_id", cfg.CampID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
