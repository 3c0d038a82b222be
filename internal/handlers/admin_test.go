package handlers

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/models"
)

func TestUpdateRegistration(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.staff(t, "admin-1", models.RoleAdmin)
	reg := env.register(t, "Anita Rao")
	path := "/admin/registrations/" + reg.RegistrationID

	resp := env.api.Patch(path, cookie, map[string]any{
		"note":              "Paid the rest in cash",
		"payment_amount":    500,
		"phone_number":      "8123456789",
		"registration_type": "faithbox",
		"reason":            "Switched at the desk",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, "Paid the rest in cash", body["note"])
	assert.Equal(t, "+918123456789", body["phone_number"])
	assert.Equal(t, "faithbox", body["registration_type"])
	assert.Equal(t, false, body["collected_faithbox"], "switching to faithbox starts the flag at false")

	var history []models.RegistrationHistory
	require.NoError(t, env.db.Where("registration_id = ?", reg.RegistrationID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "staff-admin-1", history[0].ChangedBy)
	assert.Equal(t, 500, history[0].PaymentAmount)
	assert.Equal(t, "Switched at the desk", history[0].Reason)

	resp = env.api.Get(path+"/history", cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	items := decode(t, resp)["history"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Switched at the desk", items[0].(map[string]any)["reason"])

	var audits int64
	env.db.Model(&models.AuditLog{}).Where("action = ? AND resource_id = ?", ActionRegistrationUpdated, reg.RegistrationID).Count(&audits)
	assert.EqualValues(t, 1, audits)

	t.Run("Validation", func(t *testing.T) {
		for _, body := range []map[string]any{
			{"full_name": "  "},
			{"phone_number": "12345"},
			{"registration_type": "vip"},
			{"payment_amount": -1},
		} {
			resp := env.api.Patch(path, cookie, body)
			assert.Equal(t, http.StatusBadRequest, resp.Code, "%v: %s", body, resp.Body.String())
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		resp := env.api.Patch("/admin/registrations/YC26NOPENO", cookie, map[string]any{"note": "x"})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("FrontDeskCanEdit", func(t *testing.T) {
		_, desk := env.staff(t, "desk-1", models.RoleFrontDesk)
		resp := env.api.Patch(path, desk, map[string]any{"note": "checked"})
		assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	})
}

func TestUpdateRegistration_KeepsCheckInAssignment(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.staff(t, "admin-1", models.RoleAdmin)
	reg := env.register(t, "Anita Rao")

	resp := env.api.Post("/print-id", cookie, map[string]any{"registration_id": reg.RegistrationID})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.api.Patch("/admin/registrations/"+reg.RegistrationID, cookie, map[string]any{
		"group_name":      "Team Malachi",
		"attended_number": 99,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code, "assignment fields are not editable")

	resp = env.api.Patch("/admin/registrations/"+reg.RegistrationID, cookie, map[string]any{"note": "moved?"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, "Team Genesis", body["group_name"])
	assert.EqualValues(t, 1, body["attended_number"])
}

func TestUpdateRegistration_EditRacingFirstPrint(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.staff(t, "admin-1", models.RoleAdmin)
	reg := env.register(t, "Anita Rao")

	// An edit that loaded the row before the card was printed.
	var stale models.Registration
	require.NoError(t, env.db.First(&stale, "registration_id = ?", reg.RegistrationID).Error)
	require.Nil(t, stale.GroupName)

	resp := env.api.Post("/print-id", cookie, map[string]any{"registration_id": reg.RegistrationID})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	stale.Note = "edited before the print landed"
	require.NoError(t, saveEditable(env.db, &stale))

	var got models.Registration
	require.NoError(t, env.db.First(&got, "registration_id = ?", reg.RegistrationID).Error)
	assert.Equal(t, "edited before the print landed", got.Note)
	require.NotNil(t, got.GroupName)
	assert.Equal(t, "Team Genesis", *got.GroupName)
	require.NotNil(t, got.AttendedNumber)
	assert.EqualValues(t, 1, *got.AttendedNumber)
	assert.Equal(t, models.AttendanceCheckedIn, got.AttendanceStatus)
	assert.True(t, got.IDCardPrinted)
	assert.NotNil(t, got.IDCardPrintedAt)

	// The next check-in still gets the next number.
	other := env.register(t, "Ravi Kumar")
	resp = env.api.Post("/print-id", cookie, map[string]any{"registration_id": other.RegistrationID})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.EqualValues(t, 2, decode(t, resp)["attended_number"])
}

func TestListAndDeleteRegistrations(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.staff(t, "admin-1", models.RoleAdmin)
	first := env.register(t, "Anita Rao")
	env.register(t, "Ravi Kumar")

	resp := env.api.Get("/admin/registrations?q=anita", cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.EqualValues(t, 1, body["total"])

	resp = env.api.Get("/admin/registrations?payment_status=completed&page_size=1", cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body = decode(t, resp)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["registrations"], 1)

	resp = env.api.Delete("/admin/registrations/"+first.RegistrationID, cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.api.Get("/admin/registrations/"+first.RegistrationID, cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	var audits int64
	env.db.Model(&models.AuditLog{}).Where("action = ?", ActionRegistrationDeleted).Count(&audits)
	assert.EqualValues(t, 1, audits)
}

func TestRegistrationQR(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.staff(t, "desk-1", models.RoleFrontDesk)
	reg := env.register(t, "Anita Rao")

	resp := env.api.Get("/admin/registrations/"+reg.RegistrationID+"/qr", cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(resp.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	resp = env.api.Get("/admin/registrations/" + reg.RegistrationID + "/qr")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.api.Get("/admin/registrations/YC26NOPENO/qr", cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMembers(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.staff(t, "admin-1", models.RoleAdmin)
	_, desk := env.staff(t, "desk-1", models.RoleFrontDesk)
	reg := env.register(t, "Anita Rao")

	resp := env.api.Get("/admin/members?q="+reg.MemberID, desk)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.EqualValues(t, 1, decode(t, resp)["total"])

	resp = env.api.Patch("/admin/members/"+reg.MemberID, desk, map[string]any{"church_name": "Grace"})
	assert.Equal(t, http.StatusForbidden, resp.Code, "front desk may view but not edit members")

	resp = env.api.Patch("/admin/members/"+reg.MemberID, admin, map[string]any{
		"church_name": "Grace",
		"education":   "B.Sc",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, "Grace", body["church_name"])
	assert.Equal(t, "B.Sc", body["education"])
	assert.Equal(t, "Anita Rao", body["full_name"])

	resp = env.api.Get("/admin/members/YC999999", admin)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	super, superCookie := env.staff(t, "super-1", models.RoleSuperAdmin)
	_, adminCookie := env.staff(t, "admin-1", models.RoleAdmin)
	newcomer, newcomerCookie := env.staff(t, "new-1", models.RoleNone)

	resp := env.api.Patch(fmt.Sprintf("/admin/users/%d", newcomer.ID), adminCookie, map[string]any{"role": "front_desk"})
	assert.Equal(t, http.StatusForbidden, resp.Code, "admins cannot manage users")

	resp = env.api.Patch(fmt.Sprintf("/admin/users/%d", super.ID), superCookie, map[string]any{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, resp.Code, "no self-demotion")

	resp = env.api.Patch(fmt.Sprintf("/admin/users/%d", newcomer.ID), superCookie, map[string]any{"role": "front_desk"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "front_desk", decode(t, resp)["role"])

	resp = env.api.Get("/me", newcomerCookie)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, decode(t, resp)["permissions"], "print_id_cards")

	resp = env.api.Patch(fmt.Sprintf("/admin/users/%d", newcomer.ID), superCookie, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, false, decode(t, resp)["active"])

	resp = env.api.Get("/me", newcomerCookie)
	assert.Equal(t, http.StatusForbidden, resp.Code, "disabled accounts are locked out")

	resp = env.api.Get("/admin/users", superCookie)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode(t, resp)["users"], 3)
}

func TestCountersAndAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.staff(t, "admin-1", models.RoleAdmin)
	_, desk := env.staff(t, "desk-1", models.RoleFrontDesk)
	reg := env.register(t, "Anita Rao")
	resp := env.api.Post("/print-id", desk, map[string]any{"registration_id": reg.RegistrationID})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.api.Get("/admin/counters", desk)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.api.Get("/admin/counters", admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	values := map[string]float64{}
	for _, c := range decode(t, resp)["counters"].([]any) {
		row := c.(map[string]any)
		values[row["name"].(string)] = row["value"].(float64)
	}
	assert.EqualValues(t, 1, values[models.AttendedCounter(testCamp)])
	assert.EqualValues(t, 1, values[models.RegistrationCounter(testCamp)])
	assert.EqualValues(t, 1, values[models.MemberCounter])

	resp = env.api.Get("/admin/audit-logs?action=id_card_generated", admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	logs := decode(t, resp)["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, reg.RegistrationID, logs[0].(map[string]any)["resource_id"])
}
