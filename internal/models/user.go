package models

import (
	"gorm.io/gorm"
)

type Role string

const (
	RoleNone       Role = ""
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleFrontDesk  Role = "front_desk"
)

type Permission string

const (
	PermManageUsers         Permission = "manage_users"
	PermManageRegistrations Permission = "manage_registrations"
	PermManageMembers       Permission = "manage_members"
	PermViewMembers         Permission = "view_members"
	PermManagePayments      Permission = "manage_payments"
	PermManageSettings      Permission = "manage_settings"
	PermViewReports         Permission = "view_reports"
	PermPrintIDCards        Permission = "print_id_cards"
)

var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermManageUsers, PermManageRegistrations, PermManageMembers, PermViewMembers,
		PermManagePayments, PermManageSettings, PermViewReports, PermPrintIDCards,
	},
	RoleAdmin: {
		PermManageRegistrations, PermManageMembers, PermViewMembers,
		PermManagePayments, PermViewReports, PermPrintIDCards,
	},
	RoleFrontDesk: {
		PermManageRegistrations, PermViewMembers, PermPrintIDCards,
	},
}

func ValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permissions returns the default permissions granted by a role.
func (r Role) Permissions() []Permission {
	return rolePermissions[r]
}

func (r Role) Can(p Permission) bool {
	for _, have := range rolePermissions[r] {
		if have == p {
			return true
		}
	}
	return false
}

// User is a staff account, signed in through Discord.
type User struct {
	gorm.Model
	DiscordID string `gorm:"uniqueIndex"`
	Username  string
	Email     string
	Avatar    string
	Role      Role `gorm:"size:32"`
	Active    bool `gorm:"not null;default:true"`
}

func (u *User) Can(p Permission) bool {
	return u.Active && u.Role.Can(p)
}
