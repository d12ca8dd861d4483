// Package search finds concerns by free text. Meilisearch is the primary
// engine; a Postgres ILIKE scan serves as the fallback when it is down.
package search

import (
	"strings"

	"concerndesk/api/internal/store"
)

type Query struct {
	Text      string
	Branch    string
	Status    string
	Category  string
	StudentID string
	Limit     int
	Offset    int
}

type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Category string `json:"category"`
	Branch   string `json:"branch"`
	Status   string `json:"status"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ConcernRecord is the indexed shape of a concern. The student id is stored
// for filtering only: it is never searchable and never part of a Result, so
// anonymity survives the search path.
type ConcernRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Branch      string `json:"branch"`
	Status      string `json:"status"`
	StudentID   string `json:"studentId"`
}

func RecordFromConcern(item store.Concern) ConcernRecord {
	return ConcernRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Branch:      item.Branch,
		Status:      item.Status,
		StudentID:   item.StudentID,
	}
}

const snippetWords = 30

func snippet(text string) string {
	fields := strings.Fields(text)
	if len(fields) <= snippetWords {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:snippetWords], " ") + "…"
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
