package export

import (
	"context"
	"fmt"
)

// DataStore is the slice of storage the report needs.
type DataStore interface {
	GetConcernReport(ctx context.Context, concernID string) (ConcernInfo, error)
	ListConcernReviews(ctx context.Context, concernID string) ([]ReviewInfo, error)
}

type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders a concern report and prints it to PDF.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	concern, err := s.store.GetConcernReport(ctx, req.ConcernID)
	if err != nil {
		return nil, fmt.Errorf("get concern: %w", err)
	}

	var reviews []ReviewInfo
	if req.IncludeReviews {
		reviews, err = s.store.ListConcernReviews(ctx, req.ConcernID)
		if err != nil {
			return nil, fmt.Errorf("list reviews: %w", err)
		}
	}

	html, err := RenderReportHTML(TemplateData{Concern: concern, Reviews: reviews})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	return exportPDF(html, concern.Title)
}
