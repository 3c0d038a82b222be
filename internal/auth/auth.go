package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	DiscordAuthorizeEndpoint = "https://discord.com/api/oauth2/authorize"
	DiscordTokenEndpoint     = "https://discord.com/api/oauth2/token"
	DiscordUserAPI           = "https://discord.com/api/users/@me"

	TokenDuration      = 24 * time.Hour
	PhoneTokenDuration = 30 * time.Minute

	CookieName      = "auth_token"
	PhoneCookieName = "phone_token"
	stateCookieName = "oauth_state"

	tokenTypeStaff = "staff"
	tokenTypePhone = "phone"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("no token")
)

type AuthHandler struct {
	oauthConfig *oauth2.Config
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	userAPI     string
}

func NewAuthHandler(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
			Scopes:       []string{"identify", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  DiscordAuthorizeEndpoint,
				TokenURL: DiscordTokenEndpoint,
			},
		},
		db:      db,
		cfg:     cfg,
		logger:  logger,
		userAPI: DiscordUserAPI,
	}
}

// AuthInput is embedded by every huma input that needs a staff identity.
type AuthInput struct {
	Cookie string `header:"Cookie"`
	APIKey string `header:"X-API-KEY"`
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Path:     "/auth",
		SameSite: http.SameSiteLaxMode,
	})
	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

type DiscordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}
	state, err := r.Cookie(stateCookieName)
	if err != nil || state.Value == "" || state.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}

	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("discord token exchange failed", zap.Error(err))
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	client := h.oauthConfig.Client(r.Context(), token)
	resp, err := client.Get(h.userAPI)
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var discordUser DiscordUser
	if err := json.NewDecoder(resp.Body).Decode(&discordUser); err != nil || discordUser.ID == "" {
		http.Error(w, "Failed to decode user info", http.StatusInternalServerError)
		return
	}

	user, err := h.UpsertUser(r.Context(), discordUser)
	if err != nil {
		h.logger.Error("failed to save user", zap.String("discord_id", discordUser.ID), zap.Error(err))
		http.Error(w, "Failed to save user", http.StatusInternalServerError)
		return
	}

	jwtToken, err := h.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, h.sessionCookie(jwtToken))
	h.logger.Info("staff signed in", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)))

	http.Redirect(w, r, strings.TrimRight(h.cfg.FrontendURL, "/")+"/admin", http.StatusFound)
}

// UpsertUser records the Discord profile. Configured super admins are promoted
// on every login; everyone else keeps the role granted to them.
func (h *AuthHandler) UpsertUser(ctx context.Context, du DiscordUser) (*models.User, error) {
	var user models.User
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.User{DiscordID: du.ID}).Attrs(models.User{Active: true}).FirstOrInit(&user).Error; err != nil {
			return err
		}
		user.Username = du.Username
		user.Email = du.Email
		user.Avatar = du.Avatar
		if slices.Contains(h.cfg.SuperAdminDiscordIDs, du.ID) {
			user.Role = models.RoleSuperAdmin
			user.Active = true
		}
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (h *AuthHandler) sessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  time.Now().Add(TokenDuration),
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.PublicURL, "https://"),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) GenerateToken(userID uint) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"typ":     tokenTypeStaff,
		"exp":     time.Now().Add(TokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

// IssuePhoneToken proves that the holder received an OTP on phoneNumber.
func (h *AuthHandler) IssuePhoneToken(phoneNumber string) (string, error) {
	claims := jwt.MapClaims{
		"phone": phoneNumber,
		"typ":   tokenTypePhone,
		"exp":   time.Now().Add(PhoneTokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

func (h *AuthHandler) PhoneCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     PhoneCookieName,
		Value:    token,
		Expires:  time.Now().Add(PhoneTokenDuration),
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.PublicURL, "https://"),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (h *AuthHandler) staffClaims(tokenString string) (uint, time.Time, error) {
	claims, err := h.parse(tokenString)
	if err != nil {
		return 0, time.Time{}, err
	}
	if typ, _ := claims["typ"].(string); typ == tokenTypePhone {
		return 0, time.Time{}, ErrInvalidToken
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return 0, time.Time{}, ErrInvalidToken
	}
	var exp time.Time
	if v, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(v), 0)
	}
	return uint(userIDFloat), exp, nil
}

// VerifyPhoneToken returns the phone number a phone-verification token was
// issued for.
func (h *AuthHandler) VerifyPhoneToken(cookieHeader string) (string, error) {
	raw := ReadCookie(cookieHeader, PhoneCookieName)
	if raw == "" {
		return "", ErrNoToken
	}
	claims, err := h.parse(raw)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != tokenTypePhone {
		return "", ErrInvalidToken
	}
	phoneNumber, _ := claims["phone"].(string)
	if phoneNumber == "" {
		return "", ErrInvalidToken
	}
	return phoneNumber, nil
}

// ReadCookie extracts one cookie from a raw Cookie header.
func ReadCookie(header, name string) string {
	if header == "" {
		return ""
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Authorize resolves the caller from an API key or session cookie and checks
// that the account is active and holds every permission in perms.
func (h *AuthHandler) Authorize(ctx context.Context, input AuthInput, perms ...models.Permission) (*models.User, error) {
	var userID uint
	switch {
	case input.APIKey != "":
		id, err := h.userFromAPIKey(ctx, input.APIKey)
		if err != nil {
			return nil, err
		}
		userID = id
	default:
		raw := ReadCookie(input.Cookie, CookieName)
		if raw == "" {
			return nil, huma.Error401Unauthorized("Unauthorized: No token found")
		}
		id, _, err := h.staffClaims(raw)
		if err != nil {
			return nil, huma.Error401Unauthorized("Unauthorized: Invalid token")
		}
		userID = id
	}

	return h.requireUser(ctx, userID, perms...)
}

func (h *AuthHandler) requireUser(ctx context.Context, userID uint, perms ...models.Permission) (*models.User, error) {
	var user models.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error401Unauthorized("Unauthorized: Unknown user")
		}
		return nil, huma.Error500InternalServerError("Failed to load user")
	}
	if !user.Active {
		return nil, huma.Error403Forbidden("Account is disabled")
	}
	for _, p := range perms {
		if !user.Can(p) {
			return nil, huma.Error403Forbidden("Insufficient permissions")
		}
	}
	return &user, nil
}

// UserFromContext loads the user AuthMiddleware put on the request context.
func (h *AuthHandler) UserFromContext(ctx context.Context, perms ...models.Permission) (*models.User, error) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	if !ok || userID == 0 {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}
	return h.requireUser(ctx, userID, perms...)
}

func (h *AuthHandler) userFromAPIKey(ctx context.Context, key string) (uint, error) {
	var keyModel models.APIKey
	if err := h.db.WithContext(ctx).Where("key = ?", key).First(&keyModel).Error; err != nil {
		return 0, huma.Error401Unauthorized("Unauthorized: Invalid API key")
	}
	now := time.Now()
	if keyModel.ExpiresAt != nil && now.After(*keyModel.ExpiresAt) {
		return 0, huma.Error401Unauthorized("Unauthorized: API Key expired")
	}
	h.db.WithContext(ctx).Model(&keyModel).Updates(map[string]any{
		"last_used_at": now,
		"use_count":    gorm.Expr("use_count + 1"),
	})
	return keyModel.UserID, nil
}

type MeResponse struct {
	Body struct {
		ID          uint                `json:"id"`
		DiscordID   string              `json:"discord_id"`
		Username    string              `json:"username"`
		Email       string              `json:"email"`
		Avatar      string              `json:"avatar"`
		Role        models.Role         `json:"role"`
		Active      bool                `json:"active"`
		Permissions []models.Permission `json:"permissions"`
	}
}

func (h *AuthHandler) HandleMe(ctx context.Context, input *AuthInput) (*MeResponse, error) {
	user, err := h.Authorize(ctx, *input)
	if err != nil {
		return nil, err
	}
	resp := &MeResponse{}
	resp.Body.ID = user.ID
	resp.Body.DiscordID = user.DiscordID
	resp.Body.Username = user.Username
	resp.Body.Email = user.Email
	resp.Body.Avatar = user.Avatar
	resp.Body.Role = user.Role
	resp.Body.Active = user.Active
	resp.Body.Permissions = user.Role.Permissions()
	if resp.Body.Permissions == nil {
		resp.Body.Permissions = []models.Permission{}
	}
	return resp, nil
}

type RoleInput struct {
	AuthInput
	DiscordID string `query:"discord_id" doc:"Discord user id to look up"`
}

type RoleResponse struct {
	Body struct {
		Role *models.Role `json:"role"`
		Name *string      `json:"name"`
	}
}

// HandleRole reports the role held by a staff account.
func (h *AuthHandler) HandleRole(ctx context.Context, input *RoleInput) (*RoleResponse, error) {
	caller, err := h.Authorize(ctx, input.AuthInput)
	if err != nil {
		return nil, err
	}
	if input.DiscordID == "" {
		return nil, huma.Error400BadRequest("Missing discord_id parameter")
	}
	if input.DiscordID != caller.DiscordID && !caller.Can(models.PermManageUsers) {
		return nil, huma.Error403Forbidden("Insufficient permissions")
	}

	var user models.User
	if err := h.db.WithContext(ctx).Where("discord_id = ?", input.DiscordID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("User not found")
		}
		return nil, huma.Error500InternalServerError("Failed to get user role")
	}

	resp := &RoleResponse{}
	if user.Role != models.RoleNone {
		resp.Body.Role = &user.Role
	}
	if user.Username != "" {
		resp.Body.Name = &user.Username
	}
	return resp, nil
}

// GrantRole sets a user's role by Discord id; used from the command line to
// bootstrap the first administrator.
func GrantRole(ctx context.Context, db *gorm.DB, discordID string, role models.Role) (*models.User, error) {
	if role != models.RoleNone && !models.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	var user models.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.User{DiscordID: discordID}).Attrs(models.User{Active: true}).FirstOrInit(&user).Error; err != nil {
			return err
		}
		user.Role = role
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
