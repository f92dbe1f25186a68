package shared

// Platform administration permissions.
const (
	PermUsersView   = "user:view_all"
	PermUsersManage = "user:manage"

	PermPermissionsView   = "permission:view_all"
	PermPermissionsManage = "permission:manage"

	PermManagersManage = "manager:manage"
)

// CoreScopes lists all permissions related to platform administration.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersManage,
		PermPermissionsView,
		PermPermissionsManage,
		PermManagersManage,
	}
}
