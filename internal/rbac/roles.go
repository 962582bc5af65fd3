package rbac

// Role names. Keep these stable; they are carried in bearer tokens.
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleAgent, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}
