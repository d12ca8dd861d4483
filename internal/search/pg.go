package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgScan is the fallback engine: a plain ILIKE scan over the concerns table.
// Concern volume is per-branch and modest, so no tsvector column is kept.
type PgScan struct {
	db *sql.DB
}

func NewPgScan(db *sql.DB) *PgScan {
	return &PgScan{db: db}
}

func (p *PgScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "(title ILIKE $1 OR description ILIKE $1)"
	args := []any{"%" + q.Text + "%"}
	if q.Branch != "" {
		args = append(args, q.Branch)
		where += fmt.Sprintf(" AND branch = $%d", len(args))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.StudentID != "" {
		args = append(args, q.StudentID)
		where += fmt.Sprintf(" AND student_id = $%d", len(args))
	}

	var total int
	countSQL := "SELECT count(*) FROM concerns WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count concern matches: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT id, title, description, category, branch, status
		FROM concerns
		WHERE %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("scan concerns: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var description string
		if err := rows.Scan(&r.ID, &r.Title, &description, &r.Category, &r.Branch, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("scan concern row: %w", err)
		}
		r.Snippet = snippet(description)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate concern rows: %w", err)
	}
	return results, total, nil
}
