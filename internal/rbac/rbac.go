// Package rbac maps production roles onto the actions the API gates on.
package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleArtist   Role = "artist"
	RoleProducer Role = "producer"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleProducer:
		return action == ActionRead || action == ActionWrite
	case RoleArtist:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown role strings to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleArtist, RoleProducer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
