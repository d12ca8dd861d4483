package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const concernColumns = `id, title, description, category, student_id, student_type, branch, program, status,
	assigned_staff_id, assigned_trainer_id, anonymous, identity_revealed, attachment_ref,
	created_at, updated_at, resolved_at`

func scanConcern(row interface{ Scan(...any) error }) (Concern, error) {
	var item Concern
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Category,
		&item.StudentID,
		&item.StudentType,
		&item.Branch,
		&item.Program,
		&item.Status,
		&item.AssignedStaffID,
		&item.AssignedTrainerID,
		&item.Anonymous,
		&item.IdentityRevealed,
		&item.AttachmentRef,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ResolvedAt,
	)
	return item, err
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var item Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, student_type, branch, credits, negative_count_lifetime,
			banned_from_raise, handles_exclusive, created_at, updated_at
		FROM profiles
		WHERE id=$1
	`, userID).Scan(
		&item.ID,
		&item.DisplayName,
		&item.Email,
		&item.Role,
		&item.StudentType,
		&item.Branch,
		&item.Credits,
		&item.NegativeLifetime,
		&item.BannedFromRaise,
		&item.HandlesExclusive,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	return item, nil
}

func (s *PostgresStore) EnsureProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, role, student_type, branch, handles_exclusive)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, profile.ID, profile.DisplayName, profile.Email, profile.Role, profile.StudentType, profile.Branch, profile.HandlesExclusive)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddCredits(ctx context.Context, userID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET credits=credits+$2, updated_at=NOW() WHERE id=$1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

// MarkBanned flips banned_from_raise exactly once. The returned bool reports
// whether this call was the first crossing; repeat calls affect zero rows.
func (s *PostgresStore) MarkBanned(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET banned_from_raise=TRUE, updated_at=NOW()
		WHERE id=$1 AND banned_from_raise=FALSE
	`, userID)
	if err != nil {
		return false, fmt.Errorf("mark banned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark banned rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RecountNegativeLifetime(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET negative_count_lifetime=(SELECT COUNT(*) FROM negative_events WHERE target_user_id=$1),
			updated_at=NOW()
		WHERE id=$1
		RETURNING negative_count_lifetime
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recount negative events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertConcern(ctx context.Context, item Concern) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO concerns (id, title, description, category, student_id, student_type, branch, program, status, anonymous, attachment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Title, item.Description, item.Category, item.StudentID, item.StudentType,
		item.Branch, item.Program, item.Status, item.Anonymous, item.AttachmentRef)
	if err != nil {
		return fmt.Errorf("insert concern: %w", mapInsertErr(err))
	}
	return nil
}

func (s *PostgresStore) GetConcern(ctx context.Context, concernID string) (Concern, error) {
	item, err := scanConcern(s.db.QueryRowContext(ctx, `
		SELECT `+concernColumns+`
		FROM concerns
		WHERE id=$1
	`, concernID))
	if err != nil {
		return Concern{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListConcerns(ctx context.Context, filter ConcernFilter) ([]Concern, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+concernColumns+`
		FROM concerns
		WHERE ($1='' OR branch=$1)
		  AND ($2='' OR status=$2)
		  AND ($3='' OR student_id=$3)
		  AND ($4='' OR category=$4)
		ORDER BY created_at DESC
		LIMIT $5
	`, filter.Branch, filter.Status, filter.StudentID, filter.Category, limit)
	if err != nil {
		return nil, fmt.Errorf("list concerns: %w", err)
	}
	defer rows.Close()

	items := make([]Concern, 0)
	for rows.Next() {
		item, err := scanConcern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan concern: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate concerns: %w", err)
	}
	return items, nil
}

// ClaimConcern is the claim-once conditional write: it succeeds only while the
// concern is unclaimed, so among N concurrent claimers exactly one sees true.
func (s *PostgresStore) ClaimConcern(ctx context.Context, concernID string, staffID, trainerID *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE concerns
		SET status='in_process', assigned_staff_id=$2, assigned_trainer_id=$3, updated_at=NOW()
		WHERE id=$1
		  AND status IN ('logged', 'noted')
		  AND assigned_staff_id IS NULL
		  AND assigned_trainer_id IS NULL
	`, concernID, staffID, trainerID)
	if err != nil {
		return false, fmt.Errorf("claim concern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim concern rows: %w", err)
	}
	return affected > 0, nil
}

// CloseConcern moves an in_process concern to fixed or cancelled.
func (s *PostgresStore) CloseConcern(ctx context.Context, concernID, status string) (bool, error) {
	if status != "fixed" && status != "cancelled" {
		return false, fmt.Errorf("close concern: invalid terminal status %q", status)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE concerns
		SET status=$2,
			resolved_at=CASE WHEN $2='fixed' THEN NOW() ELSE resolved_at END,
			updated_at=NOW()
		WHERE id=$1 AND status='in_process'
	`, concernID, status)
	if err != nil {
		return false, fmt.Errorf("close concern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close concern rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RejectConcern(ctx context.Context, concernID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE concerns
		SET status='rejected', updated_at=NOW()
		WHERE id=$1 AND status IN ('logged', 'noted')
	`, concernID)
	if err != nil {
		return false, fmt.Errorf("reject concern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject concern rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) PromoteToNoted(ctx context.Context, concernID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE concerns
		SET status='noted', updated_at=NOW()
		WHERE id=$1 AND status='logged'
	`, concernID)
	if err != nil {
		return false, fmt.Errorf("promote concern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("promote concern rows: %w", err)
	}
	return affected > 0, nil
}

// RevealIdentity records the audit row and flips the flag in one transaction.
// The unique constraint on identity_reveals makes the flag monotonic: a second
// reveal inserts nothing and returns false.
func (s *PostgresStore) RevealIdentity(ctx context.Context, concernID, revealedBy string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reveal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO identity_reveals (concern_id, revealed_by)
		VALUES ($1, $2)
		ON CONFLICT (concern_id) DO NOTHING
	`, concernID, revealedBy)
	if err != nil {
		return false, fmt.Errorf("insert identity reveal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert identity reveal rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE concerns SET identity_revealed=TRUE, updated_at=NOW() WHERE id=$1
	`, concernID); err != nil {
		return false, fmt.Errorf("set identity revealed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reveal tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListIdentityReveals(ctx context.Context, concernID string) ([]IdentityReveal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concern_id, revealed_by, created_at
		FROM identity_reveals
		WHERE concern_id=$1
		ORDER BY created_at ASC
	`, concernID)
	if err != nil {
		return nil, fmt.Errorf("list identity reveals: %w", err)
	}
	defer rows.Close()

	items := make([]IdentityReveal, 0)
	for rows.Next() {
		var item IdentityReveal
		if err := rows.Scan(&item.ID, &item.ConcernID, &item.RevealedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity reveal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity reveals: %w", err)
	}
	return items, nil
}

// InsertReview surfaces a unique violation as ErrDuplicate: one manual review
// per (concern, reviewer), one system rating per concern.
func (s *PostgresStore) InsertReview(ctx context.Context, item Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, concern_id, reviewer_id, reviewer_role, rating, comment, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ConcernID, item.ReviewerID, item.ReviewerRole, item.Rating, item.Comment, item.IsSystem)
	if err != nil {
		return mapInsertErr(err)
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, concernID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concern_id, reviewer_id, reviewer_role, rating, comment, is_system, created_at
		FROM reviews
		WHERE concern_id=$1
		ORDER BY created_at ASC
	`, concernID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.ConcernID, &item.ReviewerID, &item.ReviewerRole, &item.Rating, &item.Comment, &item.IsSystem, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

// InsertCreditAward inserts the ledger row acting as the per-(concern, role)
// mutex. The bool reports whether this call actually inserted it, i.e. whether
// the caller owns the one credit increment for that key.
func (s *PostgresStore) InsertCreditAward(ctx context.Context, concernID, role string, amount int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_awards (concern_id, role, awarded)
		VALUES ($1, $2, $3)
		ON CONFLICT (concern_id, role) DO NOTHING
	`, concernID, role, amount)
	if err != nil {
		return false, fmt.Errorf("insert credit award: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert credit award rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountCreditAwards(ctx context.Context, concernID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_awards WHERE concern_id=$1`, concernID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credit awards: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertNegativeEvent(ctx context.Context, concernID, targetUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO negative_events (concern_id, target_user_id)
		VALUES ($1, $2)
	`, concernID, targetUserID)
	if err != nil {
		return fmt.Errorf("insert negative event: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountNegativeEvents(ctx context.Context, targetUserID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM negative_events WHERE target_user_id=$1
	`, targetUserID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count negative events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountNegativeEventsSince(ctx context.Context, targetUserID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM negative_events WHERE target_user_id=$1 AND created_at > $2
	`, targetUserID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count windowed negative events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, concern_id, type, branch)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.ConcernID, item.Type, item.Branch)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", mapInsertErr(err))
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, concern_id, type, branch, is_closed, created_at
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.ConcernID, &item.Type, &item.Branch, &item.IsClosed, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetConcernConversation(ctx context.Context, concernID string) (*Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, concern_id, type, branch, is_closed, created_at
		FROM conversations
		WHERE concern_id=$1
		ORDER BY created_at ASC
		LIMIT 1
	`, concernID).Scan(&item.ID, &item.ConcernID, &item.Type, &item.Branch, &item.IsClosed, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get concern conversation: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.ConversationID, item.SenderID, item.Body)
	if err != nil {
		return fmt.Errorf("insert message: %w", mapInsertErr(err))
	}
	return nil
}

// ListMessages returns a conversation in total order: created_at, then the
// server-assigned id as the tie-breaker.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.SenderID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// CountUnread is the authoritative unread count derived from the message
// stream; the per-client cursor cache is never trusted beyond display.
func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, actorID string, after time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id=$1 AND sender_id <> $2 AND created_at > $3
	`, conversationID, actorID, after).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
