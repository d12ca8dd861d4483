package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"concerndesk/api/internal/feed"
	"concerndesk/api/internal/rbac"
	"concerndesk/api/internal/store"
	"concerndesk/api/internal/util"
)

func isClosed(status string) bool {
	return status == "fixed" || status == "cancelled" || status == "rejected"
}

// SubmitReview records one review per reviewer per concern. A positive rating
// feeds the credit ledger; a negative one records a negative event against
// the reviewed party.
func (s *Service) SubmitReview(ctx context.Context, actor rbac.Actor, concernID string, input ReviewInput) (map[string]any, error) {
	if input.Rating < -1 || input.Rating > 1 {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "rating must be -1, 0 or 1", nil)
	}

	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if !isClosed(item.Status) {
		return nil, domainError(http.StatusConflict, codeConflict, "concern is not closed yet", nil)
	}

	decision := rbac.Decide(actor, rbacConcern(item), rbac.ActionReview)
	if !decision.Allowed {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	review := store.Review{
		ID:           util.NewID("rev"),
		ConcernID:    concernID,
		ReviewerID:   actor.ID,
		ReviewerRole: string(actor.Role),
		Rating:       input.Rating,
		Comment:      input.Comment,
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, codeConflict, "reviewer already reviewed this concern", nil)
		}
		return nil, err
	}

	switch {
	case input.Rating > 0:
		if err := s.awardCredits(ctx, item); err != nil {
			return nil, err
		}
	case input.Rating < 0:
		target := reviewedParty(actor, item)
		if target != "" {
			if err := s.recordNegative(ctx, concernID, target); err != nil {
				return nil, err
			}
		}
	}

	s.publishReview(ctx, review)
	return reviewView(review), nil
}

// awardCredits settles the ledger for a satisfied review: one row per
// (concern, role), each inserted row worth a fixed credit grant. Rows that
// already exist were settled earlier, so retries and duplicate deliveries
// award nothing twice.
func (s *Service) awardCredits(ctx context.Context, item store.Concern) error {
	recipients := []struct {
		role   string
		userID string
	}{
		{"student", item.StudentID},
	}
	if item.AssignedStaffID != nil {
		recipients = append(recipients, struct{ role, userID string }{"staff", *item.AssignedStaffID})
	}
	if item.AssignedTrainerID != nil {
		recipients = append(recipients, struct{ role, userID string }{"trainer", *item.AssignedTrainerID})
	}

	for _, recipient := range recipients {
		inserted, err := s.store.InsertCreditAward(ctx, item.ID, recipient.role, creditPerAward)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		if err := s.store.AddCredits(ctx, recipient.userID, creditPerAward); err != nil {
			return err
		}
	}
	return nil
}

// reviewedParty is whoever the negative rating lands on: the assignee when a
// student is dissatisfied, the student when a handler disputes validity.
func reviewedParty(actor rbac.Actor, item store.Concern) string {
	if actor.Role == rbac.RoleStudent {
		if item.AssignedStaffID != nil {
			return *item.AssignedStaffID
		}
		if item.AssignedTrainerID != nil {
			return *item.AssignedTrainerID
		}
		return ""
	}
	return item.StudentID
}

// recordNegative appends a negative event and runs the trust rules for the
// target: students approach the lifetime ban, handlers the rolling alert.
func (s *Service) recordNegative(ctx context.Context, concernID, targetID string) error {
	if err := s.store.InsertNegativeEvent(ctx, concernID, targetID); err != nil {
		return err
	}

	profile, err := s.store.GetProfile(ctx, targetID)
	if err != nil {
		return err
	}
	if profile.Role == string(rbac.RoleStudent) {
		banned, err := s.trust.RecordStudentEvent(ctx, targetID)
		if err != nil {
			return err
		}
		if banned {
			log.Printf("trust: student %s suspended from raising concerns", targetID)
		}
		return nil
	}

	alert, err := s.trust.HighAlert(ctx, targetID, s.now())
	if err != nil {
		return err
	}
	if alert {
		log.Printf("trust: high alert for %s %s", profile.Role, targetID)
	}
	return nil
}

func (s *Service) publishReview(ctx context.Context, review store.Review) {
	if s.feed == nil {
		return
	}
	row, err := marshalView(reviewView(review))
	if err != nil {
		log.Printf("feed: marshal review %s: %v", review.ID, err)
		return
	}
	event := feed.Event{Entity: "reviews", Action: feed.ActionInserted, RowID: review.ID, Row: row, At: s.now()}
	if err := s.feed.Publish(ctx, event); err != nil {
		log.Printf("feed: publish review %s: %v", review.ID, err)
	}
}

func reviewView(review store.Review) map[string]any {
	return map[string]any{
		"id":           review.ID,
		"concernId":    review.ConcernID,
		"reviewerId":   review.ReviewerID,
		"reviewerRole": review.ReviewerRole,
		"rating":       review.Rating,
		"comment":      review.Comment,
		"isSystem":     review.IsSystem,
		"createdAt":    review.CreatedAt,
	}
}

func reviewViews(reviews []store.Review) []map[string]any {
	views := make([]map[string]any, 0, len(reviews))
	for _, review := range reviews {
		views = append(views, reviewView(review))
	}
	return views
}
