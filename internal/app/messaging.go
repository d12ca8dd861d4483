package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"concerndesk/api/internal/export"
	"concerndesk/api/internal/rbac"
	"concerndesk/api/internal/search"
	"concerndesk/api/internal/store"
	"concerndesk/api/internal/util"
)

func messageView(item store.Message) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"conversationId": item.ConversationID,
		"senderId":       item.SenderID,
		"body":           item.Body,
		"createdAt":      item.CreatedAt,
	}
}

// concernConversation returns the concern's conversation, creating it lazily
// for concerns that predate conversation provisioning.
func (s *Service) concernConversation(ctx context.Context, item store.Concern) (store.Conversation, error) {
	existing, err := s.store.GetConcernConversation(ctx, item.ID)
	if err != nil {
		return store.Conversation{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	conversation := store.Conversation{
		ID:        util.NewID("conv"),
		ConcernID: &item.ID,
		Type:      "concern",
		Branch:    item.Branch,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return store.Conversation{}, err
	}
	return conversation, nil
}

func (s *Service) postConcernMessage(ctx context.Context, actor rbac.Actor, item store.Concern, body string) (store.Message, error) {
	conversation, err := s.concernConversation(ctx, item)
	if err != nil {
		return store.Message{}, err
	}
	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		SenderID:       actor.ID,
		Body:           body,
		CreatedAt:      s.now(),
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return store.Message{}, err
	}
	s.publishMessage(ctx, message)
	return message, nil
}

func (s *Service) ListConcernMessages(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if !canViewConcern(actor, item) {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "no access to this concern", nil)
	}

	conversation, err := s.store.GetConcernConversation(ctx, concernID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return map[string]any{"conversationId": nil, "messages": []map[string]any{}}, nil
	}

	messages, err := s.store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		views = append(views, messageView(message))
	}
	return map[string]any{"conversationId": conversation.ID, "messages": views}, nil
}

func (s *Service) PostMessage(ctx context.Context, actor rbac.Actor, concernID string, input MessageInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "body is required", nil)
	}

	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if !canViewConcern(actor, item) {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "no access to this concern", nil)
	}

	message, err := s.postConcernMessage(ctx, actor, item, body)
	if err != nil {
		return nil, err
	}
	return messageView(message), nil
}

// conversationForActor loads a conversation and checks the actor may see it
// through its owning concern. Conversation IDs are not capabilities.
func (s *Service) conversationForActor(ctx context.Context, actor rbac.Actor, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, domainError(http.StatusNotFound, codeNotFound, "conversation not found", nil)
	}
	if err != nil {
		return store.Conversation{}, err
	}
	if conversation.ConcernID != nil {
		item, err := s.store.GetConcern(ctx, *conversation.ConcernID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.Conversation{}, err
		}
		if err == nil && !canViewConcern(actor, item) {
			return store.Conversation{}, domainError(http.StatusForbidden, codeNotAuthorized, "no access to this conversation", nil)
		}
	}
	return conversation, nil
}

// Unread returns the authoritative unread count for the actor: messages from
// others newer than the later of the read cursor and the conversation start.
func (s *Service) Unread(ctx context.Context, actor rbac.Actor, conversationID string) (map[string]any, error) {
	conversation, err := s.conversationForActor(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	after := conversation.CreatedAt
	if s.cursors != nil {
		cursor, ok, err := s.cursors.Get(ctx, actor.ID, conversationID)
		if err != nil {
			return nil, err
		}
		if ok && cursor.After(after) {
			after = cursor
		}
	}

	count, err := s.store.CountUnread(ctx, conversationID, actor.ID, after)
	if err != nil {
		return nil, err
	}
	return map[string]any{"conversationId": conversationID, "unread": count}, nil
}

// MarkRead moves the actor's cursor for one conversation to now.
func (s *Service) MarkRead(ctx context.Context, actor rbac.Actor, conversationID string) error {
	if s.cursors == nil {
		return domainError(http.StatusServiceUnavailable, codeUnavailable, "read cursors not configured", nil)
	}
	if _, err := s.conversationForActor(ctx, actor, conversationID); err != nil {
		return err
	}
	return s.cursors.Set(ctx, actor.ID, conversationID, s.now())
}

// MarkAllRead is the explicit global affordance: it moves cursors for every
// conversation named, nothing else.
func (s *Service) MarkAllRead(ctx context.Context, actor rbac.Actor, conversationIDs []string) error {
	if s.cursors == nil {
		return domainError(http.StatusServiceUnavailable, codeUnavailable, "read cursors not configured", nil)
	}
	now := s.now()
	for _, conversationID := range conversationIDs {
		if _, err := s.conversationForActor(ctx, actor, conversationID); err != nil {
			return err
		}
		if err := s.cursors.Set(ctx, actor.ID, conversationID, now); err != nil {
			return err
		}
	}
	return nil
}

// SearchConcerns scopes the query to what the actor may read before running
// it: everyone below main_admin stays inside their branch, students see their
// own concerns only, and trainers see the trainer-related slice.
func (s *Service) SearchConcerns(ctx context.Context, actor rbac.Actor, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, codeUnavailable, "search not configured", nil)
	}
	if actor.Role != rbac.RoleMainAdmin {
		q.Branch = actor.Branch
	}
	switch actor.Role {
	case rbac.RoleStudent:
		q.StudentID = actor.ID
	case rbac.RoleTrainer:
		q.Category = rbac.CategoryTrainerRelated
	}
	return s.search.Search(ctx, q), nil
}

// AttachmentURL resolves a concern's attachment reference to a time-limited
// download URL.
func (s *Service) AttachmentURL(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if !canViewConcern(actor, item) {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "no access to this concern", nil)
	}
	if item.AttachmentRef == "" {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern has no attachment", nil)
	}
	if s.blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, codeUnavailable, "attachment storage not configured", nil)
	}

	url, err := s.blobs.ResolveURL(ctx, item.AttachmentRef)
	if err != nil {
		return nil, domainError(http.StatusServiceUnavailable, codeUnavailable, "attachment storage unavailable", nil)
	}
	return map[string]any{"url": url, "expiresIn": int(s.cfg.AttachmentTTL / time.Second)}, nil
}

// ExportReport renders a concern report PDF for admins and the assignee.
func (s *Service) ExportReport(ctx context.Context, actor rbac.Actor, concernID string) (*export.Result, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}
	allowed := actor.Role == rbac.RoleMainAdmin || actor.Role == rbac.RoleBranchAdmin || isAssignee(actor, item)
	if !allowed {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "only admins and the assignee export reports", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{ConcernID: concernID, IncludeReviews: true})
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, codeUnavailable, "pdf renderer unavailable", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type ProvisionProfileInput struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	StudentType      string `json:"studentType"`
	Branch           string `json:"branch"`
	HandlesExclusive bool   `json:"handlesExclusive"`
}

// ProvisionProfile mirrors an identity-provider account into a local profile.
// Existing profiles are left untouched.
func (s *Service) ProvisionProfile(ctx context.Context, actor rbac.Actor, input ProvisionProfileInput) (map[string]any, error) {
	if actor.Role != rbac.RoleBranchAdmin && actor.Role != rbac.RoleMainAdmin {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "only admins provision profiles", nil)
	}
	if strings.TrimSpace(input.ID) == "" || strings.TrimSpace(input.DisplayName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "id and displayName are required", nil)
	}
	if rbac.Normalize(input.Role) != rbac.Role(input.Role) {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "unknown role", map[string]any{"role": input.Role})
	}
	studentType := input.StudentType
	if studentType == "" {
		studentType = "regular"
	}

	profile := store.Profile{
		ID:               input.ID,
		DisplayName:      input.DisplayName,
		Email:            input.Email,
		Role:             input.Role,
		StudentType:      studentType,
		Branch:           input.Branch,
		HandlesExclusive: input.HandlesExclusive,
	}
	if err := s.store.EnsureProfile(ctx, profile); err != nil {
		return nil, err
	}
	return s.ProfileSummary(ctx, actor, input.ID)
}

// ProfileSummary exposes a profile with its derived trust state: lifetime
// count for students, the current rolling-window alert for handlers.
func (s *Service) ProfileSummary(ctx context.Context, actor rbac.Actor, userID string) (map[string]any, error) {
	if actor.ID != userID {
		switch actor.Role {
		case rbac.RoleBranchAdmin, rbac.RoleMainAdmin:
		default:
			return nil, domainError(http.StatusForbidden, codeNotAuthorized, "profiles are visible to their owner and admins", nil)
		}
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "profile not found", nil)
	}
	if err != nil {
		return nil, err
	}

	view := map[string]any{
		"id":               profile.ID,
		"displayName":      profile.DisplayName,
		"role":             profile.Role,
		"branch":           profile.Branch,
		"credits":          profile.Credits,
		"handlesExclusive": profile.HandlesExclusive,
	}
	switch rbac.Normalize(profile.Role) {
	case rbac.RoleStudent:
		view["studentType"] = profile.StudentType
		view["negativeLifetime"] = profile.NegativeLifetime
		view["bannedFromRaise"] = profile.BannedFromRaise
	case rbac.RoleStaff, rbac.RoleTrainer:
		alert, err := s.trust.HighAlert(ctx, userID, s.now())
		if err != nil {
			return nil, err
		}
		view["highAlert"] = alert
	}
	return view, nil
}

func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return domainError(http.StatusServiceUnavailable, codeUnavailable, "database unreachable", nil)
	}
	if s.feed != nil {
		if err := s.feed.Ping(ctx); err != nil {
			return domainError(http.StatusServiceUnavailable, codeUnavailable, "redis unreachable", nil)
		}
	}
	return nil
}

// reportStore adapts the data store to the export package, substituting a
// placeholder for the submitter of anonymous concerns.
type reportStore struct {
	store dataStore
}

func (r reportStore) GetConcernReport(ctx context.Context, concernID string) (export.ConcernInfo, error) {
	item, err := r.store.GetConcern(ctx, concernID)
	if err != nil {
		return export.ConcernInfo{}, err
	}

	submitter := "Anonymous student"
	if !item.Anonymous || item.IdentityRevealed {
		profile, err := r.store.GetProfile(ctx, item.StudentID)
		if err == nil && profile.DisplayName != "" {
			submitter = profile.DisplayName
		}
	}
	return export.ConcernInfo{
		ID:         item.ID,
		Title:      item.Title,
		Body:       item.Description,
		Category:   item.Category,
		Branch:     item.Branch,
		Status:     item.Status,
		Submitter:  submitter,
		CreatedAt:  item.CreatedAt,
		ResolvedAt: item.ResolvedAt,
	}, nil
}

func (r reportStore) ListConcernReviews(ctx context.Context, concernID string) ([]export.ReviewInfo, error) {
	reviews, err := r.store.ListReviews(ctx, concernID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.ReviewInfo, 0, len(reviews))
	for _, review := range reviews {
		reviewer := review.ReviewerRole
		if review.IsSystem {
			reviewer = "system"
		}
		infos = append(infos, export.ReviewInfo{
			Reviewer:  reviewer,
			Rating:    review.Rating,
			Comment:   review.Comment,
			IsSystem:  review.IsSystem,
			CreatedAt: review.CreatedAt,
		})
	}
	return infos, nil
}
