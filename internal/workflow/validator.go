package workflow

import "taskflow/api/internal/rbac"

// Actor is the authenticated identity requesting an operation.
type Actor struct {
	ID   string
	Name string
	Role rbac.Role
	Team string
}

func (a Actor) IsAdmin() bool {
	return a.Role == rbac.RoleAdmin
}

// Subject is the part of the stored entity the rules look at.
type Subject struct {
	AssignedTo string
	Team       string
}

type DenyCode string

const (
	DenyInvalidTransition DenyCode = "invalid_transition"
	DenyForbidden         DenyCode = "forbidden"
)

const (
	ReasonInvalidTransition = "invalid transition"
	ReasonInsufficientRole  = "insufficient role"
	ReasonNotAssignedLeader = "only the assigned team leader may submit a milestone"
	ReasonNotAssignee       = "only the assigned user may complete a task"
	ReasonNotParticipant    = "actor does not participate in this work item"
)

type Decision struct {
	Allowed bool
	// NoOp is set when the requested state equals the current one.
	NoOp   bool
	Code   DenyCode
	Reason string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(code DenyCode, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// Validate decides whether actor may move an entity of kind from current to
// requested. Rules are evaluated in order and the first match wins:
//
//  1. requested == current is an allowed no-op.
//  2. verified and rejected need the review permission (admins only).
//  3. the edge must exist in the kind's transition table.
//  4. a milestone is submitted only by the team leader it is assigned to.
//  5. a task is marked done only by its assignee or an admin.
//  6. any other edge needs a participant: an admin, the assignee, or for
//     tasks the leader of the task's team.
func Validate(kind Kind, current, requested State, actor Actor, subject Subject) Decision {
	if requested == current {
		return Decision{Allowed: true, NoOp: true}
	}
	if isVerdict(requested) && !rbac.Can(actor.Role, rbac.ActionReview) {
		return deny(DenyForbidden, ReasonInsufficientRole)
	}
	if !CanTransition(kind, current, requested) {
		return deny(DenyInvalidTransition, ReasonInvalidTransition)
	}
	if isVerdict(requested) {
		return allow()
	}

	switch {
	case kind == KindMilestone && requested == StateSubmitted:
		if actor.Role != rbac.RoleTeamLeader || actor.ID != subject.AssignedTo {
			return deny(DenyForbidden, ReasonNotAssignedLeader)
		}
		return allow()
	case kind == KindTask && requested == StateDone:
		if !actor.IsAdmin() && actor.ID != subject.AssignedTo {
			return deny(DenyForbidden, ReasonNotAssignee)
		}
		return allow()
	}

	if !rbac.Can(actor.Role, rbac.ActionTransition) || !participates(kind, actor, subject) {
		return deny(DenyForbidden, ReasonNotParticipant)
	}
	return allow()
}

func participates(kind Kind, actor Actor, subject Subject) bool {
	if actor.IsAdmin() || actor.ID == subject.AssignedTo {
		return true
	}
	return kind == KindTask && actor.Role == rbac.RoleTeamLeader && actor.Team != "" && actor.Team == subject.Team
}
