package rbac

type Role string
type Action string

const (
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	// ActionReview covers listing the queue, single approve/reject and stats.
	ActionReview Action = "review"
	ActionDelete Action = "delete"
	// ActionBulk covers approve-all, delete-all, backfill and cache refresh.
	ActionBulk Action = "bulk"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionReview
	default:
		return false
	}
}

// Normalize maps unknown role strings to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleModerator
	}
}

func Valid(role string) bool {
	return Role(role) == RoleModerator || Role(role) == RoleAdmin
}
