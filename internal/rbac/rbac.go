package rbac

type Role string
type Action string

const (
	RoleStudent     Role = "student"
	RoleTrainer     Role = "trainer"
	RoleStaff       Role = "staff"
	RoleBranchAdmin Role = "branch_admin"
	RoleMainAdmin   Role = "main_admin"
)

const (
	ActionSubmit Action = "submit"
	ActionClaim  Action = "claim"
	ActionFix    Action = "fix"
	ActionCancel Action = "cancel"
	ActionReject Action = "reject"
	ActionReveal Action = "reveal_identity"
	ActionReview Action = "review"
	ActionReply  Action = "reply"
)

// Actor is the identity-derived view of the requester.
type Actor struct {
	ID               string
	Role             Role
	Branch           string
	HandlesExclusive bool
	BannedFromRaise  bool
}

// Concern is the subset of concern state the decision table consults.
type Concern struct {
	Status            string
	Category          string
	StudentID         string
	StudentType       string
	Branch            string
	AssignedStaffID   *string
	AssignedTrainerID *string
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

const (
	CategoryTrainerRelated = "trainer_related"
	StudentTypeExclusive   = "exclusive"
)

func isUnclaimed(status string) bool {
	return status == "logged" || status == "noted"
}

func isAssignee(actor Actor, concern Concern) bool {
	if concern.AssignedStaffID != nil && *concern.AssignedStaffID == actor.ID {
		return true
	}
	if concern.AssignedTrainerID != nil && *concern.AssignedTrainerID == actor.ID {
		return true
	}
	return false
}

// Decide is the single authorization table: role × concern state × action.
// Every lifecycle operation consults it exactly once before touching storage.
func Decide(actor Actor, concern Concern, action Action) Decision {
	switch action {
	case ActionSubmit:
		if actor.Role != RoleStudent {
			return deny("only students submit concerns")
		}
		if actor.BannedFromRaise {
			return deny("submission privileges suspended after repeated invalid concerns")
		}
		return allow()

	case ActionClaim:
		if !isUnclaimed(concern.Status) {
			return deny("concern is not open for claiming")
		}
		switch actor.Role {
		case RoleStaff, RoleBranchAdmin:
			if actor.Branch != "" && concern.Branch != "" && actor.Branch != concern.Branch {
				return deny("concern belongs to a different branch")
			}
			return allow()
		case RoleTrainer:
			if !actor.HandlesExclusive {
				return deny("trainer does not handle exclusive students")
			}
			if concern.StudentType != StudentTypeExclusive {
				return deny("trainers claim exclusive-student concerns only")
			}
			return allow()
		default:
			return deny("role cannot claim concerns")
		}

	case ActionFix, ActionCancel:
		if concern.Status != "in_process" {
			return deny("concern is not in process")
		}
		if actor.Role == RoleBranchAdmin || actor.Role == RoleMainAdmin {
			return allow()
		}
		if isAssignee(actor, concern) {
			return allow()
		}
		return deny("only the assignee or an admin closes a concern")

	case ActionReject:
		if actor.Role != RoleBranchAdmin && actor.Role != RoleMainAdmin {
			return deny("only admins reject concerns")
		}
		if !isUnclaimed(concern.Status) {
			return deny("only open concerns can be rejected")
		}
		return allow()

	case ActionReveal:
		if actor.Role != RoleMainAdmin {
			return deny("only the main admin reveals identities")
		}
		return allow()

	case ActionReview:
		switch actor.Role {
		case RoleStudent:
			if concern.StudentID != actor.ID {
				return deny("students review their own concerns only")
			}
			if concern.Category == CategoryTrainerRelated {
				return deny("trainer-handled concerns are rated by the system")
			}
			return allow()
		case RoleStaff, RoleTrainer:
			if !isAssignee(actor, concern) {
				return deny("handlers review concerns assigned to them only")
			}
			return allow()
		case RoleBranchAdmin, RoleMainAdmin:
			return allow()
		default:
			return deny("role cannot review concerns")
		}

	case ActionReply:
		if actor.Role != RoleTrainer {
			return deny("only trainers reply through the concern feed")
		}
		if concern.Category != CategoryTrainerRelated {
			return deny("trainer replies apply to trainer-related concerns only")
		}
		if !isUnclaimed(concern.Status) {
			return deny("concern is already being handled")
		}
		return allow()
	}
	return deny("unknown action")
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleTrainer, RoleStaff, RoleBranchAdmin, RoleMainAdmin:
		return Role(role)
	default:
		return RoleStudent
	}
}
