package rbac

type Role string
type Action string

const (
	RolePersonnel  Role = "personnel"
	RoleTeamLeader Role = "team_leader"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionTransition      Action = "transition"
	ActionCreateTask      Action = "create_task"
	ActionAssignTask      Action = "assign_task"
	ActionCreateMilestone Action = "create_milestone"
	ActionAssignMilestone Action = "assign_milestone"
	ActionReview          Action = "review"
	ActionDelete          Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTeamLeader:
		return action == ActionRead || action == ActionTransition || action == ActionCreateTask || action == ActionAssignTask
	case RolePersonnel:
		return action == ActionRead || action == ActionTransition
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RolePersonnel, RoleTeamLeader, RoleAdmin:
		return Role(role)
	default:
		return RolePersonnel
	}
}
