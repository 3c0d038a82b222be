package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/models"
	"gorm.io/gorm"
)

// APIKeyHandler manages the keys that scanner stations and scripts use in
// place of a browser session. A key acts with its owner's role.
type APIKeyHandler struct {
	db          *gorm.DB
	authHandler *auth.AuthHandler
}

func NewAPIKeyHandler(db *gorm.DB, authHandler *auth.AuthHandler) *APIKeyHandler {
	return &APIKeyHandler{db: db, authHandler: authHandler}
}

type CreateAPIKeyInput struct {
	auth.AuthInput
	Body struct {
		Name      string     `json:"name" minLength:"1" maxLength:"64" doc:"Label, e.g. the desk the scanner sits at"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
}

type APIKeyResponse struct {
	ID         uint       `json:"id"`
	UserID     uint       `json:"user_id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	UseCount   int64      `json:"use_count"`
}

type APIKeyOutput struct {
	Body APIKeyResponse
}

func maskKey(k string) string {
	if len(k) > 4 {
		return "..." + k[len(k)-4:]
	}
	return k
}

func newKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// keyResponse masks the key unless reveal is set. The full key is only
// returned by create and rotate.
func keyResponse(k models.APIKey, reveal bool) APIKeyResponse {
	key := k.Key
	if !reveal {
		key = maskKey(key)
	}
	return APIKeyResponse{
		ID:         k.ID,
		UserID:     k.UserID,
		Name:       k.Name,
		Key:        key,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		UseCount:   k.UseCount,
	}
}

func (h *APIKeyHandler) HandleCreate(ctx context.Context, input *CreateAPIKeyInput) (*APIKeyOutput, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleNone {
		return nil, huma.Error403Forbidden("Insufficient permissions")
	}
	if input.Body.ExpiresAt != nil && !input.Body.ExpiresAt.After(time.Now()) {
		return nil, huma.Error400BadRequest("expires_at must be in the future")
	}

	key, err := newKey()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate key")
	}
	apiKey := models.APIKey{
		UserID:    user.ID,
		Key:       key,
		Name:      input.Body.Name,
		ExpiresAt: input.Body.ExpiresAt,
	}
	if err := h.db.WithContext(ctx).Create(&apiKey).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to create API key")
	}
	return &APIKeyOutput{Body: keyResponse(apiKey, true)}, nil
}

type ListAPIKeysInput struct {
	auth.AuthInput
	All bool `query:"all" doc:"Every staff member's keys; needs manage_users"`
}

type ListAPIKeysOutput struct {
	Body []APIKeyResponse
}

func (h *APIKeyHandler) HandleList(ctx context.Context, input *ListAPIKeysInput) (*ListAPIKeysOutput, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput)
	if err != nil {
		return nil, err
	}
	if input.All && !user.Can(models.PermManageUsers) {
		return nil, huma.Error403Forbidden("Insufficient permissions")
	}

	q := h.db.WithContext(ctx).Order("id")
	if !input.All {
		q = q.Where("user_id = ?", user.ID)
	}
	var keys []models.APIKey
	if err := q.Find(&keys).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list API keys")
	}

	response := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		response = append(response, keyResponse(k, false))
	}
	return &ListAPIKeysOutput{Body: response}, nil
}

type APIKeyIDInput struct {
	auth.AuthInput
	ID uint `path:"id"`
}

// ownedKey loads a key the caller may manage: their own, or any key when they
// hold manage_users. Anything else reads as not found.
func (h *APIKeyHandler) ownedKey(ctx context.Context, input APIKeyIDInput) (*models.APIKey, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput)
	if err != nil {
		return nil, err
	}
	q := h.db.WithContext(ctx).Where("id = ?", input.ID)
	if !user.Can(models.PermManageUsers) {
		q = q.Where("user_id = ?", user.ID)
	}
	var key models.APIKey
	if err := q.First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("API key not found")
		}
		return nil, huma.Error500InternalServerError("Failed to load API key")
	}
	return &key, nil
}

// HandleRotate swaps in a fresh secret for a station without changing its
// label, expiry or owner. The old key stops working immediately.
func (h *APIKeyHandler) HandleRotate(ctx context.Context, input *APIKeyIDInput) (*APIKeyOutput, error) {
	key, err := h.ownedKey(ctx, *input)
	if err != nil {
		return nil, err
	}
	secret, err := newKey()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to generate key")
	}
	key.Key = secret
	key.UseCount = 0
	key.LastUsedAt = nil
	if err := h.db.WithContext(ctx).Save(key).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to rotate API key")
	}
	return &APIKeyOutput{Body: keyResponse(*key, true)}, nil
}

func (h *APIKeyHandler) HandleDelete(ctx context.Context, input *APIKeyIDInput) (*struct{}, error) {
	key, err := h.ownedKey(ctx, *input)
	if err != nil {
		return nil, err
	}
	if err := h.db.WithContext(ctx).Delete(key).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete API key")
	}
	return nil, nil
}
