package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/metrics"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"github.com/yescateam/camp-desk-api/internal/whatsapp"
)

// Handlers groups everything RegisterRoutes mounts.
type Handlers struct {
	Auth         *auth.AuthHandler
	Registration *RegistrationHandler
	OTP          *OTPHandler
	CheckIn      *CheckInHandler
	Admin        *AdminHandler
	APIKeys      *APIKeyHandler
	Webhook      *whatsapp.Webhook
	Metrics      *metrics.Metrics
}

func secured(o *huma.Operation) {
	o.Security = []map[string][]string{{"cookieAuth": {}}, {"apiKeyAuth": {}}}
}

func tagged(tag string, extra ...func(*huma.Operation)) func(*huma.Operation) {
	return func(o *huma.Operation) {
		o.Tags = append(o.Tags, tag)
		for _, f := range extra {
			f(o)
		}
	}
}

// cors lets the configured frontend call the API with its cookies.
func cors(origin string) func(http.Handler) http.Handler {
	origin = strings.TrimRight(origin, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Origin") == origin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-KEY")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type CategoriesResponse struct {
	Body struct {
		Categories []registration.Category `json:"categories"`
	}
}

func RegisterRoutes(r *chi.Mux, cfg *config.Config, h *Handlers) huma.API {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.EnableCORS {
		r.Use(cors(cfg.FrontendURL))
	}
	r.Use(h.Auth.SlidingSession)

	useErrorBody()
	humaConfig := huma.DefaultConfig("Camp Desk API", "1.0.0")
	// Bodies stay exactly as declared, without a $schema link.
	humaConfig.CreateHooks = nil
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"cookieAuth": {
			Type: "apiKey",
			In:   "cookie",
			Name: auth.CookieName,
		},
		"apiKeyAuth": {
			Type: "apiKey",
			In:   "header",
			Name: "X-API-KEY",
		},
	}
	api := humachi.New(r, humaConfig)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}
	huma.Get(api, "/categories", func(ctx context.Context, _ *struct{}) (*CategoriesResponse, error) {
		resp := &CategoriesResponse{}
		resp.Body.Categories = registration.Categories()
		return resp, nil
	}, tagged("registration"))

	// Staff sign-in
	r.Get("/auth/discord/login", h.Auth.HandleLogin)
	r.Get("/auth/discord/callback", h.Auth.HandleCallback)
	huma.Get(api, "/me", h.Auth.HandleMe, tagged("auth", secured))
	huma.Get(api, "/auth/role", h.Auth.HandleRole, tagged("auth", secured))

	// Participant phone verification and self-registration
	huma.Post(api, "/auth/otp/send", h.OTP.HandleSend, tagged("otp"))
	huma.Post(api, "/auth/otp/verify", h.OTP.HandleVerify, tagged("otp"))
	huma.Post(api, "/register", h.Registration.HandleRegister, tagged("registration"))
	huma.Post(api, "/register/initiate", h.Registration.HandleInitiate, tagged("registration"))

	// Payments
	huma.Get(api, "/payment/verify", h.Registration.HandleVerify, tagged("payment"))
	r.Post("/payment/callback", h.Registration.HandlePaymentCallback)

	// Front desk
	huma.Post(api, "/frontdesk/register", h.Registration.HandleFrontdeskRegister, tagged("frontdesk", secured))
	huma.Post(api, "/frontdesk/payment/initiate", h.Registration.HandleFrontdeskInitiate, tagged("frontdesk", secured))
	huma.Post(api, "/print-id", h.CheckIn.HandlePrintID, tagged("frontdesk", secured))
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.AuthMiddleware)
		r.Get("/admin/registrations/{id}/qr", h.Admin.HandleQR)
	})

	// Admin
	huma.Get(api, "/admin/registrations", h.Admin.HandleListRegistrations, tagged("admin", secured))
	huma.Get(api, "/admin/registrations/{id}", h.Admin.HandleGetRegistration, tagged("admin", secured))
	huma.Patch(api, "/admin/registrations/{id}", h.Admin.HandleUpdateRegistration, tagged("admin", secured))
	huma.Delete(api, "/admin/registrations/{id}", h.Admin.HandleDeleteRegistration, tagged("admin", secured))
	huma.Get(api, "/admin/registrations/{id}/history", h.Admin.HandleHistory, tagged("admin", secured))
	huma.Get(api, "/admin/members", h.Admin.HandleListMembers, tagged("admin", secured))
	huma.Get(api, "/admin/members/{member_id}", h.Admin.HandleGetMember, tagged("admin", secured))
	huma.Patch(api, "/admin/members/{member_id}", h.Admin.HandleUpdateMember, tagged("admin", secured))
	huma.Get(api, "/admin/users", h.Admin.HandleListUsers, tagged("admin", secured))
	huma.Patch(api, "/admin/users/{id}", h.Admin.HandleUpdateUser, tagged("admin", secured))
	huma.Get(api, "/admin/counters", h.Admin.HandleCounters, tagged("admin", secured))
	huma.Get(api, "/admin/audit-logs", h.Admin.HandleAuditLogs, tagged("admin", secured))

	// API keys
	huma.Post(api, "/api-keys", h.APIKeys.HandleCreate, tagged("api-keys", secured))
	huma.Get(api, "/api-keys", h.APIKeys.HandleList, tagged("api-keys", secured))
	huma.Post(api, "/api-keys/{id}/rotate", h.APIKeys.HandleRotate, tagged("api-keys", secured))
	huma.Delete(api, "/api-keys/{id}", h.APIKeys.HandleDelete, tagged("api-keys", secured))

	// WhatsApp Cloud API webhook
	if h.Webhook != nil {
		r.Get("/webhooks/whatsapp", h.Webhook.HandleVerify)
		r.Post("/webhooks/whatsapp", h.Webhook.HandleEvent)
	}

	return api
}
