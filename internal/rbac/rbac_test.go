package rbac

import "testing"

func strPtr(s string) *string { return &s }

func TestDecide(t *testing.T) {
	staffID := "staff-1"
	open := Concern{Status: "logged", Category: "facilities", StudentID: "stu-1", StudentType: "regular", Branch: "north"}
	claimed := Concern{Status: "in_process", Category: "facilities", StudentID: "stu-1", Branch: "north", AssignedStaffID: strPtr(staffID)}

	tests := []struct {
		name    string
		actor   Actor
		concern Concern
		action  Action
		allowed bool
	}{
		{"student submits", Actor{ID: "stu-1", Role: RoleStudent}, Concern{}, ActionSubmit, true},
		{"banned student blocked", Actor{ID: "stu-1", Role: RoleStudent, BannedFromRaise: true}, Concern{}, ActionSubmit, false},
		{"staff cannot submit", Actor{ID: staffID, Role: RoleStaff}, Concern{}, ActionSubmit, false},

		{"staff claims open concern", Actor{ID: staffID, Role: RoleStaff, Branch: "north"}, open, ActionClaim, true},
		{"staff blocked cross-branch", Actor{ID: staffID, Role: RoleStaff, Branch: "south"}, open, ActionClaim, false},
		{"branch admin claims", Actor{ID: "ba-1", Role: RoleBranchAdmin, Branch: "north"}, open, ActionClaim, true},
		{"claim blocked once in process", Actor{ID: staffID, Role: RoleStaff, Branch: "north"}, claimed, ActionClaim, false},
		{"student cannot claim", Actor{ID: "stu-1", Role: RoleStudent}, open, ActionClaim, false},
		{"exclusive trainer claims exclusive", Actor{ID: "tr-1", Role: RoleTrainer, HandlesExclusive: true},
			Concern{Status: "noted", StudentType: StudentTypeExclusive}, ActionClaim, true},
		{"plain trainer cannot claim exclusive", Actor{ID: "tr-1", Role: RoleTrainer},
			Concern{Status: "noted", StudentType: StudentTypeExclusive}, ActionClaim, false},
		{"exclusive trainer cannot claim regular", Actor{ID: "tr-1", Role: RoleTrainer, HandlesExclusive: true}, open, ActionClaim, false},

		{"assignee fixes", Actor{ID: staffID, Role: RoleStaff}, claimed, ActionFix, true},
		{"other staff cannot fix", Actor{ID: "staff-2", Role: RoleStaff}, claimed, ActionFix, false},
		{"main admin fixes", Actor{ID: "ma-1", Role: RoleMainAdmin}, claimed, ActionFix, true},
		{"assignee cancels", Actor{ID: staffID, Role: RoleStaff}, claimed, ActionCancel, true},
		{"cannot fix open concern", Actor{ID: staffID, Role: RoleStaff}, open, ActionFix, false},

		{"branch admin rejects open", Actor{ID: "ba-1", Role: RoleBranchAdmin}, open, ActionReject, true},
		{"staff cannot reject", Actor{ID: staffID, Role: RoleStaff}, open, ActionReject, false},
		{"cannot reject in process", Actor{ID: "ba-1", Role: RoleBranchAdmin}, claimed, ActionReject, false},

		{"main admin reveals", Actor{ID: "ma-1", Role: RoleMainAdmin}, claimed, ActionReveal, true},
		{"branch admin cannot reveal", Actor{ID: "ba-1", Role: RoleBranchAdmin}, claimed, ActionReveal, false},

		{"student reviews own concern", Actor{ID: "stu-1", Role: RoleStudent}, claimed, ActionReview, true},
		{"student cannot review others", Actor{ID: "stu-2", Role: RoleStudent}, claimed, ActionReview, false},
		{"student cannot review trainer-related", Actor{ID: "stu-1", Role: RoleStudent},
			Concern{Status: "noted", Category: CategoryTrainerRelated, StudentID: "stu-1"}, ActionReview, false},
		{"assignee staff reviews", Actor{ID: staffID, Role: RoleStaff}, claimed, ActionReview, true},
		{"unassigned staff cannot review", Actor{ID: "staff-2", Role: RoleStaff}, claimed, ActionReview, false},

		{"trainer replies on trainer-related", Actor{ID: "tr-1", Role: RoleTrainer},
			Concern{Status: "logged", Category: CategoryTrainerRelated}, ActionReply, true},
		{"trainer reply blocked on other category", Actor{ID: "tr-1", Role: RoleTrainer}, open, ActionReply, false},
		{"staff cannot reply", Actor{ID: staffID, Role: RoleStaff},
			Concern{Status: "logged", Category: CategoryTrainerRelated}, ActionReply, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := Decide(tt.actor, tt.concern, tt.action)
			if decision.Allowed != tt.allowed {
				t.Errorf("Decide(%s) allowed=%v, want %v (reason %q)", tt.action, decision.Allowed, tt.allowed, decision.Reason)
			}
			if !decision.Allowed && decision.Reason == "" {
				t.Errorf("denied decision must carry a reason")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("main_admin") != RoleMainAdmin {
		t.Errorf("known role must round-trip")
	}
	if Normalize("superuser") != RoleStudent {
		t.Errorf("unknown role must fall back to student")
	}
}
