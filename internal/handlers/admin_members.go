package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/counters"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/phone"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ActionMemberUpdated   = "member_updated"
	ActionUserRoleUpdated = "user_role_updated"
)

type ListMembersRequest struct {
	auth.AuthInput
	Search   string `query:"q" doc:"Matches name, phone or member id"`
	Page     int    `query:"page" default:"1" minimum:"1"`
	PageSize int    `query:"page_size" default:"50" minimum:"1" maximum:"200"`
}

type ListMembersResponse struct {
	Body struct {
		Members []models.Member `json:"members"`
		Total   int64           `json:"total"`
	}
}

func (h *AdminHandler) HandleListMembers(ctx context.Context, input *ListMembersRequest) (*ListMembersResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermViewMembers); err != nil {
		return nil, err
	}

	q := h.db.WithContext(ctx).Model(&models.Member{})
	if s := strings.TrimSpace(input.Search); s != "" {
		q = q.Where("LOWER(full_name) LIKE ? OR phone_number LIKE ? OR member_id = ?",
			"%"+strings.ToLower(s)+"%", "%"+s+"%", strings.ToUpper(s))
	}

	resp := &ListMembersResponse{}
	if err := q.Count(&resp.Body.Total).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list members")
	}
	page, size := max(input.Page, 1), input.PageSize
	if size <= 0 {
		size = 50
	}
	resp.Body.Members = []models.Member{}
	if err := q.Order("member_id").Limit(size).Offset((page - 1) * size).Find(&resp.Body.Members).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list members")
	}
	return resp, nil
}

type MemberPathRequest struct {
	auth.AuthInput
	MemberID string `path:"member_id"`
}

type MemberOutput struct {
	Body models.Member
}

func (h *AdminHandler) loadMember(tx *gorm.DB, memberID string) (*models.Member, error) {
	var m models.Member
	err := tx.Where("member_id = ?", strings.ToUpper(strings.TrimSpace(memberID))).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, huma.Error404NotFound("Member not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load member")
	}
	return &m, nil
}

func (h *AdminHandler) HandleGetMember(ctx context.Context, input *MemberPathRequest) (*MemberOutput, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermViewMembers); err != nil {
		return nil, err
	}
	m, err := h.loadMember(h.db.WithContext(ctx), input.MemberID)
	if err != nil {
		return nil, err
	}
	return &MemberOutput{Body: *m}, nil
}

type UpdateMemberRequest struct {
	auth.AuthInput
	MemberID string `path:"member_id"`
	Body     struct {
		FullName    *string        `json:"full_name,omitempty"`
		PhoneNumber *string        `json:"phone_number,omitempty"`
		Gender      *models.Gender `json:"gender,omitempty" enum:"M,F"`
		Age         *int           `json:"age,omitempty" minimum:"1" maximum:"120"`
		Believer    *bool          `json:"believer,omitempty"`
		ChurchName  *string        `json:"church_name,omitempty"`
		Address     *string        `json:"address,omitempty"`
		models.MemberProfile
	}
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setProfile(dst *models.MemberProfile, src models.MemberProfile) {
	for _, f := range []struct{ dst, src **string }{
		{&dst.DOB, &src.DOB},
		{&dst.FatherName, &src.FatherName},
		{&dst.MarriageStatus, &src.MarriageStatus},
		{&dst.BaptismDate, &src.BaptismDate},
		{&dst.CampParticipatedSince, &src.CampParticipatedSince},
		{&dst.Education, &src.Education},
		{&dst.Occupation, &src.Occupation},
		{&dst.FutureGoals, &src.FutureGoals},
		{&dst.CurrentSkills, &src.CurrentSkills},
		{&dst.DesiredSkills, &src.DesiredSkills},
	} {
		if *f.src != nil {
			*f.dst = *f.src
		}
	}
}

func (h *AdminHandler) HandleUpdateMember(ctx context.Context, input *UpdateMemberRequest) (*MemberOutput, error) {
	user, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageMembers)
	if err != nil {
		return nil, err
	}

	body := input.Body
	if body.FullName != nil && strings.TrimSpace(*body.FullName) == "" {
		return nil, huma.Error400BadRequest("full_name cannot be empty")
	}
	if body.PhoneNumber != nil {
		n := phone.Normalize(*body.PhoneNumber)
		if n == "" {
			return nil, huma.Error400BadRequest("Invalid Indian phone number. Must be 10 digits starting with 6-9.")
		}
		body.PhoneNumber = &n
	}

	m, err := h.loadMember(h.db.WithContext(ctx), input.MemberID)
	if err != nil {
		return nil, err
	}
	setIf(&m.FullName, body.FullName)
	setIf(&m.PhoneNumber, body.PhoneNumber)
	setIf(&m.Gender, body.Gender)
	setIf(&m.Age, body.Age)
	setIf(&m.Believer, body.Believer)
	setIf(&m.ChurchName, body.ChurchName)
	setIf(&m.Address, body.Address)
	setProfile(&m.MemberProfile, body.MemberProfile)

	if err := h.db.WithContext(ctx).Save(m).Error; err != nil {
		h.logger.Error("failed to update member", zap.String("member_id", m.MemberID), zap.Error(err))
		return nil, huma.Error500InternalServerError("Failed to update member")
	}

	h.recorder.Record(ctx, audit.Entry{
		Action:       ActionMemberUpdated,
		ResourceType: "member",
		ResourceID:   m.MemberID,
		Actor:        adminActor(user),
		Timestamp:    time.Now().UTC(),
	})
	return &MemberOutput{Body: *m}, nil
}

type StaffUser struct {
	ID        uint        `json:"id"`
	DiscordID string      `json:"discord_id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

func staffUser(u models.User) StaffUser {
	return StaffUser{
		ID:        u.ID,
		DiscordID: u.DiscordID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type ListUsersResponse struct {
	Body struct {
		Users []StaffUser `json:"users"`
	}
}

func (h *AdminHandler) HandleListUsers(ctx context.Context, input *auth.AuthInput) (*ListUsersResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, *input, models.PermManageUsers); err != nil {
		return nil, err
	}
	var users []models.User
	if err := h.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list users")
	}
	resp := &ListUsersResponse{}
	resp.Body.Users = make([]StaffUser, 0, len(users))
	for _, u := range users {
		resp.Body.Users = append(resp.Body.Users, staffUser(u))
	}
	return resp, nil
}

type UpdateUserRequest struct {
	auth.AuthInput
	ID   uint `path:"id"`
	Body struct {
		Role   *models.Role `json:"role,omitempty" enum:"super_admin,admin,front_desk"`
		Active *bool        `json:"active,omitempty"`
	}
}

type UserOutput struct {
	Body StaffUser
}

// HandleUpdateUser changes a staff account's role or disables it. Staff
// cannot change their own account this way.
func (h *AdminHandler) HandleUpdateUser(ctx context.Context, input *UpdateUserRequest) (*UserOutput, error) {
	actor, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermManageUsers)
	if err != nil {
		return nil, err
	}
	if input.ID == actor.ID {
		return nil, huma.Error400BadRequest("Cannot change your own role or status")
	}
	if input.Body.Role != nil && !models.ValidRole(*input.Body.Role) {
		return nil, huma.Error400BadRequest("Invalid role")
	}

	var target models.User
	if err := h.db.WithContext(ctx).First(&target, input.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("User not found")
		}
		return nil, huma.Error500InternalServerError("Failed to load user")
	}
	if target.Role == models.RoleSuperAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, huma.Error403Forbidden("Only super admins can change a super admin")
	}
	if input.Body.Role != nil && *input.Body.Role == models.RoleSuperAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, huma.Error403Forbidden("Only super admins can grant super admin")
	}

	before := map[string]any{"role": target.Role, "active": target.Active}
	updates := map[string]any{}
	if input.Body.Role != nil {
		updates["role"] = *input.Body.Role
	}
	if input.Body.Active != nil {
		updates["active"] = *input.Body.Active
	}
	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&target).Updates(updates).Error; err != nil {
			return nil, huma.Error500InternalServerError("Failed to update user")
		}
		if err := h.db.WithContext(ctx).First(&target, target.ID).Error; err != nil {
			return nil, huma.Error500InternalServerError("Failed to load user")
		}
	}

	h.recorder.Record(ctx, audit.Entry{
		Action:       ActionUserRoleUpdated,
		ResourceType: "user",
		ResourceID:   target.DiscordID,
		Actor:        adminActor(actor),
		Details:      map[string]any{"before": before, "after": updates},
		Timestamp:    time.Now().UTC(),
	})
	return &UserOutput{Body: staffUser(target)}, nil
}

type CountersResponse struct {
	Body struct {
		Counters []models.Counter `json:"counters"`
	}
}

// HandleCounters exposes the sequence counters so the desk can see how many
// people have been registered and checked in.
func (h *AdminHandler) HandleCounters(ctx context.Context, input *auth.AuthInput) (*CountersResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, *input, models.PermViewReports); err != nil {
		return nil, err
	}
	list, err := counters.List(ctx, h.db)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load counters")
	}
	resp := &CountersResponse{}
	resp.Body.Counters = list
	return resp, nil
}

type AuditLogsRequest struct {
	auth.AuthInput
	Action       string `query:"action"`
	ResourceType string `query:"resource_type"`
	ResourceID   string `query:"resource_id"`
	Limit        int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
}

type AuditLogsResponse struct {
	Body struct {
		Logs []models.AuditLog `json:"logs"`
	}
}

func (h *AdminHandler) HandleAuditLogs(ctx context.Context, input *AuditLogsRequest) (*AuditLogsResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput, models.PermViewReports); err != nil {
		return nil, err
	}
	q := h.db.WithContext(ctx).Model(&models.AuditLog{})
	if input.Action != "" {
		q = q.Where("action = ?", input.Action)
	}
	if input.ResourceType != "" {
		q = q.Where("resource_type = ?", input.ResourceType)
	}
	if input.ResourceID != "" {
		q = q.Where("resource_id = ?", input.ResourceID)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}

	resp := &AuditLogsResponse{}
	resp.Body.Logs = []models.AuditLog{}
	if err := q.Order("timestamp DESC").Limit(limit).Find(&resp.Body.Logs).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to load audit logs")
	}
	return resp, nil
}
