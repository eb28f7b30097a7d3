package types

import "github.com/google/uuid"

const (
	RoleAdmin    = "ADMIN"
	RoleOperator = "OPERATOR"
)

type Capability string

const (
	// CapBypassAssignment lets an actor start/stop/complete/skip steps
	// without claiming them first.
	CapBypassAssignment Capability = "bypass_assignment"
	// CapAssignSteps lets an actor set or clear another user's assignment.
	CapAssignSteps Capability = "assign_steps"
)

// Actor is the acting-user context passed explicitly into every engine call.
// The concrete role set lives with the host's user records; the engine only
// asks capability questions.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

func (a Actor) Can(cap Capability) bool {
	switch cap {
	case CapBypassAssignment, CapAssignSteps:
		return a.Role == RoleAdmin
	default:
		return false
	}
}
