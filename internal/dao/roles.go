package dao

// Role names a capability a caller must hold for an operation.
type Role int

const (
	RoleMember Role = iota + 1
	RoleSudo
	RoleController
	RoleDepositer
	RoleModule
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleSudo:
		return "sudo"
	case RoleController:
		return "controller"
	case RoleDepositer:
		return "depositer"
	case RoleModule:
		return "module"
	default:
		return "unknown"
	}
}

// Capabilities is what a component resolved about one caller for one
// resource. Require checks it against the roles an operation accepts.
type Capabilities map[Role]bool

// Require returns nil when any of roles is held, else an authorization error
// naming the first required role.
func (c Capabilities) Require(caller AccountID, roles ...Role) error {
	for _, r := range roles {
		if c[r] {
			return nil
		}
	}
	if len(roles) == 0 {
		return nil
	}
	return Unauthorized(caller, roles[0])
}
