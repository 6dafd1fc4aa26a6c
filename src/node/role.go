package node

// Role determines how a node participates in the token protocol. Every
// node relays and compares tokens; only a source generates new ones, and a
// sink additionally records what it hears for the operator.
type Role uint8

const (
	// RoleNone is a plain relay participating in dissemination only.
	RoleNone Role = iota

	// RoleSink records received tokens.
	RoleSink

	// RoleSource periodically generates new tokens.
	RoleSource
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleSink:
		return "sink"
	case RoleSource:
		return "source"
	default:
		return "unknown"
	}
}
