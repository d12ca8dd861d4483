package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"concerndesk/api/internal/auth"
	"concerndesk/api/internal/rbac"
	"concerndesk/api/internal/search"
	"concerndesk/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	jwtSecret  []byte
	corsOrigin string
}

func NewHTTPServer(service *Service, jwtSecret, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, jwtSecret: []byte(jwtSecret), corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ready(ctx); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	actor, err := s.actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
		return
	}
	parts = parts[1:]

	switch {
	case len(parts) == 1 && parts[0] == "me":
		s.handleMe(w, r, actor)
	case len(parts) == 1 && parts[0] == "profiles":
		s.handleProfiles(w, r, actor)
	case len(parts) == 2 && parts[0] == "profiles":
		s.handleProfile(w, r, actor, parts[1])
	case len(parts) == 1 && parts[0] == "concerns":
		s.handleConcerns(w, r, actor)
	case len(parts) == 2 && parts[0] == "concerns":
		s.handleConcern(w, r, actor, parts[1])
	case len(parts) == 3 && parts[0] == "concerns":
		s.handleConcernAction(w, r, actor, parts[1], parts[2])
	case len(parts) == 2 && parts[0] == "conversations" && parts[1] == "read-all":
		s.handleReadAll(w, r, actor)
	case len(parts) == 3 && parts[0] == "conversations":
		s.handleConversation(w, r, actor, parts[1], parts[2])
	case len(parts) == 1 && parts[0] == "search":
		s.handleSearch(w, r, actor)
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) actorFromRequest(r *http.Request) (rbac.Actor, error) {
	token := bearerToken(r)
	if token == "" {
		return rbac.Actor{}, auth.ErrInvalidToken
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return rbac.Actor{}, err
	}
	return rbac.Actor{
		ID:               claims.Subject,
		Role:             rbac.Normalize(claims.Role),
		Branch:           claims.Branch,
		HandlesExclusive: claims.HandlesExclusive,
	}, nil
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.ProfileSummary(r.Context(), actor, actor.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleProfiles(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var input ProvisionProfileInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.ProvisionProfile(r.Context(), actor, input)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, actor rbac.Actor, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.ProfileSummary(r.Context(), actor, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleConcerns(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	switch r.Method {
	case http.MethodGet:
		filter := store.ConcernFilter{
			Status:   r.URL.Query().Get("status"),
			Category: r.URL.Query().Get("category"),
			Limit:    queryInt(r, "limit"),
		}
		items, err := s.service.ListConcerns(r.Context(), actor, filter)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"concerns": items})
	case http.MethodPost:
		var input SubmitConcernInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitConcern(r.Context(), actor, input)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleConcern(w http.ResponseWriter, r *http.Request, actor rbac.Actor, concernID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.GetConcernDetail(r.Context(), actor, concernID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleConcernAction(w http.ResponseWriter, r *http.Request, actor rbac.Actor, concernID, action string) {
	switch action {
	case "claim", "resolve", "cancel", "reject", "reveal":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var payload map[string]any
		var err error
		switch action {
		case "claim":
			payload, err = s.service.ClaimConcern(r.Context(), actor, concernID)
		case "resolve":
			payload, err = s.service.ResolveConcern(r.Context(), actor, concernID)
		case "cancel":
			var input CancelInput
			if r.ContentLength > 0 {
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
			}
			payload, err = s.service.CancelConcern(r.Context(), actor, concernID, input)
		case "reject":
			payload, err = s.service.RejectConcern(r.Context(), actor, concernID)
		case "reveal":
			payload, err = s.service.RevealIdentity(r.Context(), actor, concernID)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "reveals":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		entries, err := s.service.RevealAudit(r.Context(), actor, concernID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reveals": entries})

	case "reviews":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var input ReviewInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitReview(r.Context(), actor, concernID, input)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case "reply":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var input ReplyInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.TrainerReply(r.Context(), actor, concernID, input)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "messages":
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListConcernMessages(r.Context(), actor, concernID)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var input MessageInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.PostMessage(r.Context(), actor, concernID, input)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case "attachment-url":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.AttachmentURL(r.Context(), actor, concernID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "export":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		result, err := s.service.ExportReport(r.Context(), actor, concernID)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleConversation(w http.ResponseWriter, r *http.Request, actor rbac.Actor, conversationID, action string) {
	switch action {
	case "unread":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.Unread(r.Context(), actor, conversationID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case "read":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.MarkRead(r.Context(), actor, conversationID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleReadAll(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		ConversationIDs []string `json:"conversationIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.MarkAllRead(r.Context(), actor, body.ConversationIDs); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, actor rbac.Actor) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	q := search.Query{
		Text:     r.URL.Query().Get("q"),
		Status:   r.URL.Query().Get("status"),
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
	payload, err := s.service.SearchConcerns(r.Context(), actor, q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeErr(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: %v", err)
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, codeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}
