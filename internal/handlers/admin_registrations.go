package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/phone"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionRegistrationUpdated = "registration_updated"
	ActionRegistrationDeleted = "registration_deleted"
)

type AdminHandler struct {
	db          *gorm.DB
	campID      string
	recorder    audit.Recorder
	authHandler *auth.AuthHandler
	logger      *zap.Logger
}

func NewAdminHandler(db *gorm.DB, campID string, recorder audit.Recorder, authHandler *auth.AuthHandler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, campID: campID, recorder: recorder, authHandler: authHandler, logger: logger}
}

func adminActor(u *models.User) audit.Actor {
	return audit.Actor{Type: audit.ActorAdmin, ID: fmt.Sprintf("user:%d", u.ID)}
}

type ListRegistrationsRequest struct {
	auth.AuthInput
	Type             string `query:"type" enum:"normal,faithbox,kids" doc:"Filter by registration type"`
	PaymentStatus    string `query:"payment_status" enum:"pending,completed,failed"`
	AttendanceStatus string `query:"attendance_status" enum:"registered,checked_in"`
	Group            string `query:"group" doc:"Filter by assigned team"`
	Search           string `query:"q" doc:"Matches name, phone, registration id or member id"`
	Page             int    `query:"page" default:"1" minimum:"1"`
	PageSize         int    `query:"page_size" default:"50" minimum:"1" maximum:"200"`
}

type ListRegistrationsResponse struct {
	Body struct {
		Registrations []models.Registration `json:"registrations"`
		Total         int64                 `json:"total"`
		Page          int                   `json:"page"`
		PageSize      int                   `json:"page_size"`
	}
}

func (h *AdminHandler) HandleListRegistrations(ctx context.Context, input *ListRegistrationsRequest) (*ListRegistrationsResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations); err != nil {
		return nil, err
	}

	q := h.db.WithContext(ctx).Model(&models.Registration{}).Where("camp_id = ?", h.campID)
	if input.Type != "" {
		q = q.Where("registration_type = ?", input.Type)
	}
	if input.PaymentStatus != "" {
		q = q.Where("payment_status = ?", input.PaymentStatus)
	}
	if input.AttendanceStatus != "" {
		q = q.Where("attendance_status = ?", input.AttendanceStatus)
	}
	if input.Group != "" {
		q = q.Where("group_name = ?", input.Group)
	}
	if s := strings.TrimSpace(input.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(full_name) LIKE ? OR phone_number LIKE ? OR registration_id = ? OR member_id = ?",
			like, "%"+s+"%", strings.ToUpper(s), strings.ToUpper(s))
	}

	resp := &ListRegistrationsResponse{}
	if err := q.Count(&resp.Body.Total).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list registrations")
	}
	page, size := max(input.Page, 1), input.PageSize
	if size <= 0 {
		size = 50
	}
	resp.Body.Registrations = []models.Registration{}
	if err := q.Order("registration_number DESC").Limit(size).Offset((page - 1) * size).Find(&resp.Body.Registrations).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list registrations")
	}
	resp.Body.Page = page
	resp.Body.PageSize = size
	return resp, nil
}

type RegistrationPathRequest struct {
	auth.AuthInput
	ID string `path:"id" doc:"Registration id"`
}

type RegistrationOutput struct {
	Body models.Registration
}

func (h *AdminHandler) loadRegistration(tx *gorm.DB, id string) (*models.Registration, error) {
	var reg models.Registration
	err := tx.Where("camp_id = ? AND registration_id = ?", h.campID, strings.TrimSpace(id)).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, huma.Error404NotFound("Registration not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load registration")
	}
	return &reg, nil
}

func (h *AdminHandler) HandleGetRegistration(ctx context.Context, input *RegistrationPathRequest) (*RegistrationOutput, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations); err != nil {
		return nil, err
	}
	reg, err := h.loadRegistration(h.db.WithContext(ctx), input.ID)
	if err != nil {
		return nil, err
	}
	return &RegistrationOutput{Body: *reg}, nil
}

type UpdateRegistrationRequest struct {
	auth.AuthInput
	ID   string `path:"id"`
	Body struct {
		FullName         *string                  `json:"full_name,omitempty"`
		PhoneNumber      *string                  `json:"phone_number,omitempty"`
		RegistrationType *models.RegistrationType `json:"registration_type,omitempty" enum:"normal,faithbox,kids"`
		PaymentStatus    *models.PaymentStatus    `json:"payment_status,omitempty" enum:"pending,completed,failed"`
		PaymentAmount    *int                     `json:"payment_amount,omitempty" minimum:"0"`
		Note             *string                  `json:"note,omitempty"`
		Reason           *string                  `json:"reason,omitempty" maxLength:"200" doc:"Why the change was made; kept in the history"`
	}
}

// HandleUpdateRegistration edits the admin-editable fields and snapshots the
// result into the history table in the same transaction. Team and attendance
// assignment are never editable.
func (h *AdminHandler) HandleUpdateRegistration(ctx context.Context, input *UpdateRegistrationRequest) (*RegistrationOutput, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations)
	if err != nil {
		return nil, err
	}

	body := input.Body
	if body.FullName != nil && strings.TrimSpace(*body.FullName) == "" {
		return nil, huma.Error400BadRequest("full_name cannot be empty")
	}
	var normalizedPhone string
	if body.PhoneNumber != nil {
		if normalizedPhone = phone.Normalize(*body.PhoneNumber); normalizedPhone == "" {
			return nil, huma.Error400BadRequest("Invalid Indian phone number. Must be 10 digits starting with 6-9.")
		}
	}
	if body.RegistrationType != nil {
		if _, err := registration.CategoryFor(*body.RegistrationType); err != nil {
			return nil, toHTTP(h.logger, err)
		}
	}

	var before, after models.RegistrationFields
	var reg *models.Registration
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		reg, err = h.loadRegistration(tx, input.ID)
		if err != nil {
			return err
		}
		before = reg.RegistrationFields

		f := &reg.RegistrationFields
		if body.FullName != nil {
			f.FullName = strings.TrimSpace(*body.FullName)
		}
		if body.PhoneNumber != nil {
			f.PhoneNumber = normalizedPhone
		}
		if body.RegistrationType != nil && *body.RegistrationType != f.RegistrationType {
			f.RegistrationType = *body.RegistrationType
			if reg.UsesFaithbox() && reg.CollectedFaithbox == nil {
				no := false
				reg.CollectedFaithbox = &no
			}
			if !reg.UsesFaithbox() {
				reg.CollectedFaithbox = nil
				reg.FaithboxCollectedAt = nil
			}
		}
		if body.PaymentStatus != nil {
			f.PaymentStatus = *body.PaymentStatus
		}
		if body.PaymentAmount != nil {
			f.PaymentAmount = *body.PaymentAmount
		}
		if body.Note != nil {
			f.Note = *body.Note
		}
		after = *f

		if err := saveEditable(tx, reg); err != nil {
			return err
		}
		var fresh models.Registration
		if err := tx.First(&fresh, reg.ID).Error; err != nil {
			return err
		}
		*reg = fresh

		history := models.RegistrationHistory{
			RegistrationID:     reg.RegistrationID,
			CampID:             reg.CampID,
			ChangedBy:          staffName(user),
			RegistrationFields: reg.RegistrationFields,
		}
		if body.Reason != nil {
			history.Reason = strings.TrimSpace(*body.Reason)
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		var se huma.StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		h.logger.Error("failed to update registration", zap.String("registration_id", input.ID), zap.Error(err))
		return nil, huma.Error500InternalServerError("Failed to update registration")
	}

	h.recorder.Record(ctx, audit.Entry{
		Action:       ActionRegistrationUpdated,
		ResourceType: "registration",
		ResourceID:   reg.RegistrationID,
		Actor:        adminActor(user),
		Details:      map[string]any{"before": before, "after": after},
		Timestamp:    time.Now().UTC(),
	})
	return &RegistrationOutput{Body: *reg}, nil
}

// editableColumns are the only registration columns an admin edit writes.
// Check-in assignment is owned by the print path and is never part of an
// edit, so a print that commits while an edit is in flight survives it.
var editableColumns = []string{
	"full_name", "phone_number", "registration_type", "payment_status",
	"payment_amount", "note", "collected_faithbox", "faithbox_collected_at", "updated_at",
}

func saveEditable(tx *gorm.DB, reg *models.Registration) error {
	return tx.Model(reg).Select(editableColumns).Updates(reg).Error
}

type MessageResponse struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}

func (h *AdminHandler) HandleDeleteRegistration(ctx context.Context, input *RegistrationPathRequest) (*MessageResponse, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations)
	if err != nil {
		return nil, err
	}
	reg, err := h.loadRegistration(h.db.WithContext(ctx), input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.db.WithContext(ctx).Delete(reg).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to delete registration")
	}

	h.recorder.Record(ctx, audit.Entry{
		Action:       ActionRegistrationDeleted,
		ResourceType: "registration",
		ResourceID:   reg.RegistrationID,
		Actor:        adminActor(user),
		Details:      map[string]any{"member_id": reg.MemberID, "full_name": reg.FullName},
		Timestamp:    time.Now().UTC(),
	})

	resp := &MessageResponse{}
	resp.Body.Success = true
	resp.Body.Message = "Registration deleted"
	return resp, nil
}

type HistoryRequest struct {
	auth.AuthInput
	ID   string `path:"id"`
	Diff bool   `query:"diff" doc:"Only return fields changed since the previous entry"`
}

// HistoryFields mirrors RegistrationFields with every field optional so a
// diff can leave unchanged fields out.
type HistoryFields struct {
	FullName         *string                  `json:"full_name,omitempty"`
	PhoneNumber      *string                  `json:"phone_number,omitempty"`
	RegistrationType *models.RegistrationType `json:"registration_type,omitempty"`
	PaymentStatus    *models.PaymentStatus    `json:"payment_status,omitempty"`
	PaymentAmount    *int                     `json:"payment_amount,omitempty"`
	Note             *string                  `json:"note,omitempty"`
}

type HistoryItem struct {
	ID                 uint          `json:"id"`
	CreatedAt          time.Time     `json:"created_at"`
	ChangedBy          string        `json:"changed_by"`
	Reason             string        `json:"reason,omitempty"`
	RegistrationFields HistoryFields `json:"fields"`
}

type HistoryResponse struct {
	Body struct {
		History []HistoryItem `json:"history"`
	}
}

func changed[T comparable](cur, prev T, hasPrev bool) *T {
	if hasPrev && cur == prev {
		return nil
	}
	return &cur
}

func diffFields(cur, prev models.RegistrationFields, hasPrev bool) HistoryFields {
	return HistoryFields{
		FullName:         changed(cur.FullName, prev.FullName, hasPrev),
		PhoneNumber:      changed(cur.PhoneNumber, prev.PhoneNumber, hasPrev),
		RegistrationType: changed(cur.RegistrationType, prev.RegistrationType, hasPrev),
		PaymentStatus:    changed(cur.PaymentStatus, prev.PaymentStatus, hasPrev),
		PaymentAmount:    changed(cur.PaymentAmount, prev.PaymentAmount, hasPrev),
		Note:             changed(cur.Note, prev.Note, hasPrev),
	}
}

// HandleHistory lists edits newest first. With diff set, each entry only
// carries the fields that differ from the entry before it; the oldest entry
// is always complete.
func (h *AdminHandler) HandleHistory(ctx context.Context, input *HistoryRequest) (*HistoryResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageRegistrations); err != nil {
		return nil, err
	}

	var entries []models.RegistrationHistory
	if err := h.db.WithContext(ctx).
		Where("camp_id = ? AND registration_id = ?", h.campID, input.ID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to load history")
	}

	resp := &HistoryResponse{}
	resp.Body.History = make([]HistoryItem, 0, len(entries))
	for i, e := range entries {
		hasPrev := input.Diff && i+1 < len(entries)
		var prev models.RegistrationFields
		if hasPrev {
			prev = entries[i+1].RegistrationFields
		}
		resp.Body.History = append(resp.Body.History, HistoryItem{
			ID:                 e.ID,
			CreatedAt:          e.CreatedAt,
			ChangedBy:          e.ChangedBy,
			Reason:             e.Reason,
			RegistrationFields: diffFields(e.RegistrationFields, prev, hasPrev),
		})
	}
	return resp, nil
}

// HandleQR renders the registration id as a PNG QR code for the ID card. The
// front-desk scanner reads it back into POST /print-id.
func (h *AdminHandler) HandleQR(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authHandler.UserFromContext(r.Context(), models.PermPrintIDCards); err != nil {
		var se huma.StatusError
		if errors.As(err, &se) {
			http.Error(w, se.Error(), se.GetStatus())
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	reg, err := h.loadRegistration(h.db.WithContext(r.Context()), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(reg.RegistrationID, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
