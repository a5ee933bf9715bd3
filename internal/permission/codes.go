package permission

import "github.com/faucetdb/turnstile/internal/model"

// Permission codes.
const (
	UserCreate = "USER_CREATE"
	UserUpdate = "USER_UPDATE"
	UserRead   = "USER_READ"
	UserDelete = "USER_DELETE"

	RoleCreate = "ROLE_CREATE"
	RoleUpdate = "ROLE_UPDATE"
	RoleRead   = "ROLE_READ"
	RoleDelete = "ROLE_DELETE"

	PermissionRead   = "PERMISSION_READ"
	PermissionUpdate = "PERMISSION_UPDATE"

	SettingRead   = "SETTING_READ"
	SettingUpdate = "SETTING_UPDATE"

	APIKeyRead   = "APIKEY_READ"
	APIKeyCreate = "APIKEY_CREATE"
	APIKeyUpdate = "APIKEY_UPDATE"
	APIKeyDelete = "APIKEY_DELETE"
)

var descriptions = []struct{ code, desc string }{
	{UserCreate, "Create users"},
	{UserUpdate, "Update users"},
	{UserRead, "Read users"},
	{UserDelete, "Delete users"},
	{RoleCreate, "Create roles"},
	{RoleUpdate, "Update roles"},
	{RoleRead, "Read roles"},
	{RoleDelete, "Delete roles"},
	{PermissionRead, "Read permissions"},
	{PermissionUpdate, "Update permissions"},
	{SettingRead, "Read settings"},
	{SettingUpdate, "Update settings"},
	{APIKeyRead, "Read API keys"},
	{APIKeyCreate, "Create API keys"},
	{APIKeyUpdate, "Update API keys"},
	{APIKeyDelete, "Delete API keys"},
}

// Defaults returns the built-in permission set, all active.
func Defaults() []model.Permission {
	perms := make([]model.Permission, len(descriptions))
	for i, d := range descriptions {
		perms[i] = model.Permission{Code: d.code, Description: d.desc, IsActive: true}
	}
	return perms
}

// Codes returns every built-in permission code.
func Codes() []string {
	codes := make([]string, len(descriptions))
	for i, d := range descriptions {
		codes[i] = d.code
	}
	return codes
}
