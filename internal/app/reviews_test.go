package app

import (
	"context"
	"testing"
	"time"

	"concerndesk/api/internal/rbac"
	"concerndesk/api/internal/store"
)

func fixedConcern() store.Concern {
	item := openConcern("fixed")
	item.AssignedStaffID = strptr("staff_1")
	resolved := testNow.Add(-time.Hour)
	item.ResolvedAt = &resolved
	return item
}

func TestSubmitReviewRejectsOpenConcern(t *testing.T) {
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			return openConcern("in_process"), nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.SubmitReview(context.Background(), rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}, "con_1", ReviewInput{Rating: 1})
	assertDomainError(t, err, 409, "CONFLICT")
}

func TestSubmitReviewDuplicateIsConflict(t *testing.T) {
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			return fixedConcern(), nil
		},
		insertReviewFn: func(context.Context, store.Review) error {
			return store.ErrDuplicate
		},
	}
	svc := newTestService(fs)
	_, err := svc.SubmitReview(context.Background(), rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}, "con_1", ReviewInput{Rating: 1})
	assertDomainError(t, err, 409, "CONFLICT")
}

func TestSubmitReviewStudentOnOthersConcernForbidden(t *testing.T) {
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			return fixedConcern(), nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.SubmitReview(context.Background(), rbac.Actor{ID: "stu_other", Role: rbac.RoleStudent}, "con_1", ReviewInput{Rating: 1})
	assertDomainError(t, err, 403, "NOT_AUTHORIZED")
}

func TestSubmitReviewTrainerRelatedStudentRatingBlocked(t *testing.T) {
	item := fixedConcern()
	item.Category = "trainer_related"
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) { return item, nil },
	}
	svc := newTestService(fs)
	_, err := svc.SubmitReview(context.Background(), rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}, "con_1", ReviewInput{Rating: 1})
	assertDomainError(t, err, 403, "NOT_AUTHORIZED")
}

func TestSatisfiedReviewSettlesCreditsOnce(t *testing.T) {
	awards := map[string]bool{}
	credited := map[string]int{}
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			return fixedConcern(), nil
		},
		insertCreditAwardFn: func(_ context.Context, concernID, role string, amount int) (bool, error) {
			key := concernID + "/" + role
			if awards[key] {
				return false, nil
			}
			awards[key] = true
			return true, nil
		},
		addCreditsFn: func(_ context.Context, userID string, delta int) error {
			credited[userID] += delta
			return nil
		},
	}
	svc := newTestService(fs)

	actor := rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}
	if _, err := svc.SubmitReview(context.Background(), actor, "con_1", ReviewInput{Rating: 1, Comment: "great"}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if credited["stu_1"] != 20 || credited["staff_1"] != 20 {
		t.Errorf("credits = %v, want 20 each for stu_1 and staff_1", credited)
	}

	// a later satisfied review on the same concern settles nothing new:
	// the award rows already exist
	admin := rbac.Actor{ID: "ba_1", Role: rbac.RoleBranchAdmin, Branch: "north"}
	if _, err := svc.SubmitReview(context.Background(), admin, "con_1", ReviewInput{Rating: 1}); err != nil {
		t.Fatalf("admin SubmitReview: %v", err)
	}
	if credited["stu_1"] != 20 || credited["staff_1"] != 20 {
		t.Errorf("credits after retry = %v, want unchanged", credited)
	}
}

func TestNegativeReviewByStudentTargetsAssignee(t *testing.T) {
	var target string
	var alertChecked string
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			return fixedConcern(), nil
		},
		getProfileFn: func(_ context.Context, userID string) (store.Profile, error) {
			role := "student"
			if userID == "staff_1" {
				role = "staff"
			}
			return store.Profile{ID: userID, Role: role}, nil
		},
		insertNegativeEventFn: func(_ context.Context, _ string, targetUserID string) error {
			target = targetUserID
			return nil
		},
		countNegativeEventsSinceFn: func(_ context.Context, userID string, since time.Time) (int, error) {
			alertChecked = userID
			if want := testNow.Add(-7 * 24 * time.Hour); !since.Equal(want) {
				t.Errorf("alert window since = %v, want %v", since, want)
			}
			return 1, nil
		},
	}
	svc := newTestService(fs)

	actor := rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}
	if _, err := svc.SubmitReview(context.Background(), actor, "con_1", ReviewInput{Rating: -1}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if target != "staff_1" {
		t.Errorf("negative event target = %q, want staff_1", target)
	}
	if alertChecked != "staff_1" {
		t.Errorf("high alert evaluated for %q, want staff_1", alertChecked)
	}
}

func TestNegativeReviewByHandlerTargetsStudent(t *testing.T) {
	var target string
	var recounted string
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) {
			item := fixedConcern()
			item.Status = "cancelled"
			return item, nil
		},
		insertNegativeEventFn: func(_ context.Context, _ string, targetUserID string) error {
			target = targetUserID
			return nil
		},
		recountNegativeLifetimeFn: func(_ context.Context, userID string) (int, error) {
			recounted = userID
			return 1, nil
		},
	}
	svc := newTestService(fs)

	actor := rbac.Actor{ID: "staff_1", Role: rbac.RoleStaff, Branch: "north"}
	if _, err := svc.SubmitReview(context.Background(), actor, "con_1", ReviewInput{Rating: -1}); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if target != "stu_1" {
		t.Errorf("negative event target = %q, want stu_1", target)
	}
	if recounted != "stu_1" {
		t.Errorf("lifetime recount for %q, want stu_1", recounted)
	}
}

// the automatic neutral rating from a trainer reply must not consume the
// trainer's own review slot
func TestReplyingTrainerCanStillReviewManually(t *testing.T) {
	item := openConcern("fixed")
	item.Category = "trainer_related"
	item.AssignedTrainerID = strptr("tr_1")

	recorded := []store.Review{
		{ID: "rev_sys", ConcernID: "con_1", ReviewerID: "tr_1", Rating: 0, IsSystem: true},
	}
	fs := &fakeStore{
		getConcernFn: func(context.Context, string) (store.Concern, error) { return item, nil },
		insertReviewFn: func(_ context.Context, review store.Review) error {
			for _, existing := range recorded {
				if review.IsSystem && existing.IsSystem {
					return store.ErrDuplicate
				}
				if !review.IsSystem && !existing.IsSystem && existing.ReviewerID == review.ReviewerID {
					return store.ErrDuplicate
				}
			}
			recorded = append(recorded, review)
			return nil
		},
	}
	svc := newTestService(fs)

	trainer := rbac.Actor{ID: "tr_1", Role: rbac.RoleTrainer, HandlesExclusive: true}
	if _, err := svc.SubmitReview(context.Background(), trainer, "con_1", ReviewInput{Rating: 1, Comment: "resolved well"}); err != nil {
		t.Fatalf("SubmitReview after reply: %v", err)
	}
	if len(recorded) != 2 || recorded[1].IsSystem {
		t.Fatalf("recorded reviews = %+v, want the manual review alongside the system one", recorded)
	}

	// the manual slot is still once-only
	_, err := svc.SubmitReview(context.Background(), trainer, "con_1", ReviewInput{Rating: 1})
	assertDomainError(t, err, 409, "CONFLICT")
}

func TestSubmitReviewRatingBounds(t *testing.T) {
	svc := newTestService(&fakeStore{})
	for _, rating := range []int{-2, 2, 5} {
		_, err := svc.SubmitReview(context.Background(), rbac.Actor{ID: "stu_1", Role: rbac.RoleStudent}, "con_1", ReviewInput{Rating: rating})
		assertDomainError(t, err, 422, "VALIDATION_ERROR")
	}
}
