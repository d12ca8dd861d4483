// Package app is the concern lifecycle core: the state machine, the review
// and credit ledger, and the trust rules, behind a thin HTTP adapter.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"concerndesk/api/internal/blob"
	"concerndesk/api/internal/config"
	"concerndesk/api/internal/email"
	"concerndesk/api/internal/export"
	"concerndesk/api/internal/feed"
	"concerndesk/api/internal/rbac"
	"concerndesk/api/internal/search"
	"concerndesk/api/internal/store"
	"concerndesk/api/internal/trust"
	"concerndesk/api/internal/unread"
	"concerndesk/api/internal/util"
)

type SubmitConcernInput struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Program       string `json:"program"`
	Anonymous     bool   `json:"anonymous"`
	AttachmentRef string `json:"attachmentRef"`
}

type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type ReplyInput struct {
	Body string `json:"body"`
}

type CancelInput struct {
	ForCause bool `json:"forCause"`
}

type MessageInput struct {
	Body string `json:"body"`
}

var allowedCategories = map[string]struct{}{
	"trainer_related": {},
	"facilities":      {},
	"academics":       {},
	"administration":  {},
	"billing":         {},
	"other":           {},
}

const creditPerAward = 20

type dataStore interface {
	GetProfile(context.Context, string) (store.Profile, error)
	EnsureProfile(context.Context, store.Profile) error
	AddCredits(context.Context, string, int) error
	MarkBanned(context.Context, string) (bool, error)
	RecountNegativeLifetime(context.Context, string) (int, error)
	InsertConcern(context.Context, store.Concern) error
	GetConcern(context.Context, string) (store.Concern, error)
	ListConcerns(context.Context, store.ConcernFilter) ([]store.Concern, error)
	ClaimConcern(context.Context, string, *string, *string) (bool, error)
	CloseConcern(context.Context, string, string) (bool, error)
	RejectConcern(context.Context, string) (bool, error)
	PromoteToNoted(context.Context, string) (bool, error)
	RevealIdentity(context.Context, string, string) (bool, error)
	ListIdentityReveals(context.Context, string) ([]store.IdentityReveal, error)
	InsertReview(context.Context, store.Review) error
	ListReviews(context.Context, string) ([]store.Review, error)
	InsertCreditAward(context.Context, string, string, int) (bool, error)
	CountCreditAwards(context.Context, string) (int, error)
	InsertNegativeEvent(context.Context, string, string) error
	CountNegativeEvents(context.Context, string) (int, error)
	CountNegativeEventsSince(context.Context, string, time.Time) (int, error)
	InsertConversation(context.Context, store.Conversation) error
	GetConversation(context.Context, string) (store.Conversation, error)
	GetConcernConversation(context.Context, string) (*store.Conversation, error)
	InsertMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)
	CountUnread(context.Context, string, string, time.Time) (int, error)
	Ping(ctx context.Context) error
}

type changeFeed interface {
	Publish(context.Context, feed.Event) error
	Ping(context.Context) error
}

type searchEngine interface {
	Search(context.Context, search.Query) search.Response
	IndexConcern(search.ConcernRecord)
}

type notifier interface {
	IsConfigured() bool
	NotifyStatusChange(to, concernTitle, status string)
}

type blobResolver interface {
	ResolveURL(context.Context, string) (string, error)
}

type cursorStore interface {
	Get(ctx context.Context, actorID, conversationID string) (time.Time, bool, error)
	Set(ctx context.Context, actorID, conversationID string, lastReadAt time.Time) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	trust    *trust.Accumulator
	feed     changeFeed
	search   searchEngine
	email    notifier
	blobs    blobResolver
	cursors  cursorStore
	exporter *export.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, changeFeed *feed.Feed, searchService *search.Service, emailService *email.Service, blobs *blob.Resolver, cursors *unread.CursorStore) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		trust: trust.New(dataStore),
		now:   time.Now,
	}
	if changeFeed != nil {
		s.feed = changeFeed
	}
	if searchService != nil {
		s.search = searchService
	}
	if emailService != nil {
		s.email = emailService
	}
	if blobs != nil {
		s.blobs = blobs
	}
	if cursors != nil {
		s.cursors = cursors
	}
	s.exporter = export.NewService(reportStore{store: dataStore})
	return s
}

func rbacConcern(item store.Concern) rbac.Concern {
	return rbac.Concern{
		Status:            item.Status,
		Category:          item.Category,
		StudentID:         item.StudentID,
		StudentType:       item.StudentType,
		Branch:            item.Branch,
		AssignedStaffID:   item.AssignedStaffID,
		AssignedTrainerID: item.AssignedTrainerID,
	}
}

// canViewConcern gates read access: the submitting student, the assignee,
// admins, and trainers looking at trainer-related concerns in their branch.
func canViewConcern(actor rbac.Actor, item store.Concern) bool {
	switch actor.Role {
	case rbac.RoleMainAdmin:
		return true
	case rbac.RoleBranchAdmin, rbac.RoleStaff:
		return actor.Branch == "" || item.Branch == "" || actor.Branch == item.Branch
	case rbac.RoleTrainer:
		if isAssignee(actor, item) {
			return true
		}
		return item.Category == rbac.CategoryTrainerRelated &&
			(actor.Branch == "" || item.Branch == "" || actor.Branch == item.Branch)
	case rbac.RoleStudent:
		return item.StudentID == actor.ID
	}
	return false
}

func isAssignee(actor rbac.Actor, item store.Concern) bool {
	if item.AssignedStaffID != nil && *item.AssignedStaffID == actor.ID {
		return true
	}
	if item.AssignedTrainerID != nil && *item.AssignedTrainerID == actor.ID {
		return true
	}
	return false
}

// concernView shapes a concern for the given viewer. The student identity is
// withheld on anonymous concerns unless the viewer is the student, or an
// admin after an explicit reveal.
func concernView(item store.Concern, viewer rbac.Actor) map[string]any {
	view := map[string]any{
		"id":                item.ID,
		"title":             item.Title,
		"description":       item.Description,
		"category":          item.Category,
		"branch":            item.Branch,
		"status":            item.Status,
		"assignedStaffId":   item.AssignedStaffID,
		"assignedTrainerId": item.AssignedTrainerID,
		"anonymous":         item.Anonymous,
		"identityRevealed":  item.IdentityRevealed,
		"hasAttachment":     item.AttachmentRef != "",
		"createdAt":         item.CreatedAt,
		"updatedAt":         item.UpdatedAt,
		"resolvedAt":        item.ResolvedAt,
	}
	if item.Program != nil {
		view["program"] = *item.Program
	}
	showStudent := !item.Anonymous ||
		viewer.ID == item.StudentID ||
		(item.IdentityRevealed && (viewer.Role == rbac.RoleMainAdmin || viewer.Role == rbac.RoleBranchAdmin))
	if showStudent {
		view["studentId"] = item.StudentID
	}
	return view
}

func (s *Service) publishConcern(ctx context.Context, action string, item store.Concern) {
	if s.feed == nil {
		return
	}
	row, err := json.Marshal(concernView(item, rbac.Actor{}))
	if err != nil {
		log.Printf("feed: marshal concern %s: %v", item.ID, err)
		return
	}
	event := feed.Event{Entity: "concerns", Action: action, RowID: item.ID, Row: row, At: s.now()}
	if err := s.feed.Publish(ctx, event); err != nil {
		log.Printf("feed: publish concern %s: %v", item.ID, err)
	}
}

func (s *Service) publishMessage(ctx context.Context, item store.Message) {
	if s.feed == nil {
		return
	}
	row, err := json.Marshal(map[string]any{
		"id":             item.ID,
		"conversationId": item.ConversationID,
		"senderId":       item.SenderID,
		"body":           item.Body,
		"createdAt":      item.CreatedAt,
	})
	if err != nil {
		log.Printf("feed: marshal message %s: %v", item.ID, err)
		return
	}
	event := feed.Event{Entity: "messages", Action: feed.ActionInserted, RowID: item.ID, Row: row, At: s.now()}
	if err := s.feed.Publish(ctx, event); err != nil {
		log.Printf("feed: publish message %s: %v", item.ID, err)
	}
}

func (s *Service) indexConcern(item store.Concern) {
	if s.search == nil {
		return
	}
	s.search.IndexConcern(search.RecordFromConcern(item))
}

// notifyStudent mails the submitting student about a lifecycle change.
func (s *Service) notifyStudent(ctx context.Context, item store.Concern) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	profile, err := s.store.GetProfile(ctx, item.StudentID)
	if err != nil {
		log.Printf("email: lookup student %s: %v", item.StudentID, err)
		return
	}
	s.email.NotifyStatusChange(profile.Email, item.Title, item.Status)
}

func (s *Service) SubmitConcern(ctx context.Context, actor rbac.Actor, input SubmitConcernInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "title is required", nil)
	}
	if _, ok := allowedCategories[input.Category]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "unknown category", map[string]any{"category": input.Category})
	}

	profile, err := s.store.GetProfile(ctx, actor.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "no profile for actor", nil)
	}
	if err != nil {
		return nil, err
	}
	actor.Role = rbac.Normalize(profile.Role)
	actor.Branch = profile.Branch
	actor.BannedFromRaise = profile.BannedFromRaise

	decision := rbac.Decide(actor, rbac.Concern{}, rbac.ActionSubmit)
	if !decision.Allowed {
		if actor.BannedFromRaise {
			return nil, domainError(http.StatusForbidden, codeSuspended, decision.Reason, nil)
		}
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	item := store.Concern{
		ID:            util.NewID("con"),
		Title:         title,
		Description:   strings.TrimSpace(input.Description),
		Category:      input.Category,
		StudentID:     actor.ID,
		StudentType:   profile.StudentType,
		Branch:        profile.Branch,
		Status:        "logged",
		Anonymous:     input.Anonymous,
		AttachmentRef: input.AttachmentRef,
	}
	if item.StudentType == "" {
		item.StudentType = "regular"
	}
	if program := strings.TrimSpace(input.Program); program != "" {
		item.Program = &program
	}
	if err := s.store.InsertConcern(ctx, item); err != nil {
		return nil, err
	}

	conversation := store.Conversation{
		ID:        util.NewID("conv"),
		ConcernID: &item.ID,
		Type:      "concern",
		Branch:    item.Branch,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return nil, err
	}

	item, err = s.store.GetConcern(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexConcern(item)
	s.publishConcern(ctx, feed.ActionInserted, item)
	return concernView(item, actor), nil
}

func (s *Service) GetConcernDetail(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
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

	reviews, err := s.store.ListReviews(ctx, concernID)
	if err != nil {
		return nil, err
	}
	view := concernView(item, actor)
	view["reviews"] = reviewViews(reviews)
	return view, nil
}

func (s *Service) ListConcerns(ctx context.Context, actor rbac.Actor, filter store.ConcernFilter) ([]map[string]any, error) {
	switch actor.Role {
	case rbac.RoleStudent:
		filter.StudentID = actor.ID
	case rbac.RoleStaff, rbac.RoleBranchAdmin, rbac.RoleTrainer:
		filter.Branch = actor.Branch
	case rbac.RoleMainAdmin:
		// unscoped
	}
	items, err := s.store.ListConcerns(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if actor.Role == rbac.RoleTrainer && !isAssignee(actor, item) && item.Category != rbac.CategoryTrainerRelated {
			continue
		}
		views = append(views, concernView(item, actor))
	}
	return views, nil
}

func (s *Service) ClaimConcern(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}

	decision := rbac.Decide(actor, rbacConcern(item), rbac.ActionClaim)
	if !decision.Allowed {
		if !isOpen(item.Status) {
			return nil, domainError(http.StatusConflict, codeConflict, decision.Reason, nil)
		}
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	var staffID, trainerID *string
	if actor.Role == rbac.RoleTrainer {
		trainerID = &actor.ID
	} else {
		staffID = &actor.ID
	}
	claimed, err := s.store.ClaimConcern(ctx, concernID, staffID, trainerID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// someone else won the conditional update
		return nil, domainError(http.StatusConflict, codeConflict, "concern already claimed", nil)
	}

	item, err = s.store.GetConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	s.indexConcern(item)
	s.publishConcern(ctx, feed.ActionUpdated, item)
	s.notifyStudent(ctx, item)
	return concernView(item, actor), nil
}

func (s *Service) ResolveConcern(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	return s.closeConcern(ctx, actor, concernID, rbac.ActionFix, "fixed", false)
}

// CancelConcern closes without a fix. A for-cause cancellation is the
// handler's judgement that the concern was invalid, so it counts against the
// student like a rejection does.
func (s *Service) CancelConcern(ctx context.Context, actor rbac.Actor, concernID string, input CancelInput) (map[string]any, error) {
	return s.closeConcern(ctx, actor, concernID, rbac.ActionCancel, "cancelled", input.ForCause)
}

func (s *Service) closeConcern(ctx context.Context, actor rbac.Actor, concernID string, action rbac.Action, status string, forCause bool) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}

	decision := rbac.Decide(actor, rbacConcern(item), action)
	if !decision.Allowed {
		if item.Status != "in_process" {
			return nil, domainError(http.StatusConflict, codeConflict, decision.Reason, nil)
		}
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	closed, err := s.store.CloseConcern(ctx, concernID, status)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, domainError(http.StatusConflict, codeConflict, "concern left in_process concurrently", nil)
	}

	if forCause {
		if err := s.recordNegative(ctx, concernID, item.StudentID); err != nil {
			return nil, err
		}
	}

	item, err = s.store.GetConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	s.indexConcern(item)
	s.publishConcern(ctx, feed.ActionUpdated, item)
	s.notifyStudent(ctx, item)
	return concernView(item, actor), nil
}

// RejectConcern is terminal and counts against the student: enough rejected
// concerns suspend the right to raise new ones.
func (s *Service) RejectConcern(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}

	decision := rbac.Decide(actor, rbacConcern(item), rbac.ActionReject)
	if !decision.Allowed {
		if !isOpen(item.Status) {
			return nil, domainError(http.StatusConflict, codeConflict, decision.Reason, nil)
		}
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	rejected, err := s.store.RejectConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	if !rejected {
		return nil, domainError(http.StatusConflict, codeConflict, "concern no longer open", nil)
	}

	if err := s.recordNegative(ctx, concernID, item.StudentID); err != nil {
		return nil, err
	}

	item, err = s.store.GetConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	s.indexConcern(item)
	s.publishConcern(ctx, feed.ActionUpdated, item)
	s.notifyStudent(ctx, item)
	return concernView(item, actor), nil
}

// RevealIdentity is main_admin only, monotonic, and audited. A second reveal
// is a conflict rather than a silent no-op so callers notice stale state.
func (s *Service) RevealIdentity(ctx context.Context, actor rbac.Actor, concernID string) (map[string]any, error) {
	item, err := s.store.GetConcern(ctx, concernID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, codeNotFound, "concern not found", nil)
	}
	if err != nil {
		return nil, err
	}

	decision := rbac.Decide(actor, rbacConcern(item), rbac.ActionReveal)
	if !decision.Allowed {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}
	if !item.Anonymous {
		return nil, domainError(http.StatusUnprocessableEntity, codeValidation, "concern is not anonymous", nil)
	}

	revealed, err := s.store.RevealIdentity(ctx, concernID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !revealed {
		return nil, domainError(http.StatusConflict, codeConflict, "identity already revealed", nil)
	}

	item, err = s.store.GetConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	s.publishConcern(ctx, feed.ActionUpdated, item)
	return concernView(item, actor), nil
}

// RevealAudit lists who revealed a concern's identity and when.
func (s *Service) RevealAudit(ctx context.Context, actor rbac.Actor, concernID string) ([]map[string]any, error) {
	if actor.Role != rbac.RoleMainAdmin {
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, "only the main admin reads the reveal audit", nil)
	}
	entries, err := s.store.ListIdentityReveals(ctx, concernID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		views = append(views, map[string]any{
			"concernId":  entry.ConcernID,
			"revealedBy": entry.RevealedBy,
			"createdAt":  entry.CreatedAt,
		})
	}
	return views, nil
}

// TrainerReply lets a trainer answer a trainer-related concern directly from
// the feed. The first reply promotes logged to noted and records the one
// automatic neutral rating; replying again neither re-rates nor errors.
func (s *Service) TrainerReply(ctx context.Context, actor rbac.Actor, concernID string, input ReplyInput) (map[string]any, error) {
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

	decision := rbac.Decide(actor, rbacConcern(item), rbac.ActionReply)
	if !decision.Allowed {
		if !isOpen(item.Status) {
			return nil, domainError(http.StatusConflict, codeConflict, decision.Reason, nil)
		}
		return nil, domainError(http.StatusForbidden, codeNotAuthorized, decision.Reason, nil)
	}

	if item.Status == "logged" {
		// losing this race to another promoter is fine
		if _, err := s.store.PromoteToNoted(ctx, concernID); err != nil {
			return nil, err
		}
	}

	systemReview := store.Review{
		ID:           util.NewID("rev"),
		ConcernID:    concernID,
		ReviewerID:   actor.ID,
		ReviewerRole: string(actor.Role),
		Rating:       0,
		IsSystem:     true,
	}
	if err := s.store.InsertReview(ctx, systemReview); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return nil, err
	}

	message, err := s.postConcernMessage(ctx, actor, item, body)
	if err != nil {
		return nil, err
	}

	item, err = s.store.GetConcern(ctx, concernID)
	if err != nil {
		return nil, err
	}
	s.indexConcern(item)
	s.publishConcern(ctx, feed.ActionUpdated, item)

	view := concernView(item, actor)
	view["message"] = messageView(message)
	return view, nil
}

func isOpen(status string) bool {
	return status == "logged" || status == "noted"
}

func marshalView(view map[string]any) (json.RawMessage, error) {
	return json.Marshal(view)
}
