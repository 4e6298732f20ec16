// file: model/permission.go

package model

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type Permission string

const (
	PermTasksRead     Permission = "tasks:read"
	PermTasksWrite    Permission = "tasks:write"
	PermTasksReadAny  Permission = "tasks:read_any"
	PermTasksWriteAny Permission = "tasks:write_any"
	PermUsersManage   Permission = "users:manage"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {PermTasksRead, PermTasksWrite, PermTasksReadAny, PermTasksWriteAny, PermUsersManage},
	RoleUser:  {PermTasksRead, PermTasksWrite},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Can reports whether the role grants p. Unknown roles grant nothing.
func (r Role) Can(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the permissions granted to r.
func (r Role) Permissions() []Permission {
	return append([]Permission(nil), rolePermissions[r]...)
}
