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

	"slate/api/internal/auth"
	"slate/api/internal/authpw"
	"slate/api/internal/cellstore"
	"slate/api/internal/rbac"
	"slate/api/internal/search"
	"slate/api/internal/tablestore"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "memberName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "memberName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"memberName":    session.MemberName,
			"memberId":      session.MemberID,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeSession(w, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeSession(w, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sheets" {
		s.handleSheets(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database":     map[string]any{"status": "ok"},
		"tableService": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingTableService(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["tableService"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	q := search.Query{
		Text:  strings.TrimSpace(r.URL.Query().Get("q")),
		Table: strings.TrimSpace(r.URL.Query().Get("table")),
		Limit: 20,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		q.Offset = parsed
	}

	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

// handleSheets dispatches everything under /api/sheets/{table}.
func (s *HTTPServer) handleSheets(w http.ResponseWriter, r *http.Request, session Session, table string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListRecords(w, r, session, table)
	case len(rest) == 1 && rest[0] == "cell" && r.Method == http.MethodPut:
		s.handleUpdateCell(w, r, session, table)
	case len(rest) == 1 && rest[0] == "batch" && r.Method == http.MethodPost:
		s.handleBatchUpdate(w, r, session, table)
	case len(rest) == 1 && rest[0] == "audit" && r.Method == http.MethodGet:
		s.handleAudit(w, r, session, table)
	case len(rest) == 2 && rest[1] == "attachments":
		s.handleAttachments(w, r, session, table, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListRecords(w http.ResponseWriter, r *http.Request, session Session, table string) {
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	records, err := s.service.ListRecords(r.Context(), table)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "records": records})
}

func (s *HTTPServer) handleUpdateCell(w http.ResponseWriter, r *http.Request, session Session, table string) {
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	// Values arrive as arbitrary JSON (null, number, bool, composite) and
	// are canonicalized to the string form the sheet stores.
	var body struct {
		EntityID      string `json:"entityId"`
		FieldID       string `json:"fieldId"`
		OriginalValue any    `json:"originalValue"`
		NewValue      any    `json:"newValue"`
		Force         bool   `json:"force"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.EntityID) == "" || strings.TrimSpace(body.FieldID) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "entityId and fieldId are required", nil)
		return
	}

	originalValue := cellstore.Canonical(body.OriginalValue)
	newValue := cellstore.Canonical(body.NewValue)
	req := cellstore.UpdateRequest{
		Table:         table,
		EntityID:      body.EntityID,
		FieldID:       body.FieldID,
		OriginalValue: originalValue,
		NewValue:      newValue,
		Force:         body.Force,
	}
	result, err := s.service.UpdateCell(r.Context(), session, req)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if result.Conflict {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "Conflict detected",
			"data": map[string]any{
				"currentValue":  result.CurrentValue,
				"originalValue": originalValue,
				"newValue":      newValue,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"updatedRange": result.UpdatedAddress,
		"updatedRows":  result.UpdatedRows,
	})
}

func (s *HTTPServer) handleBatchUpdate(w http.ResponseWriter, r *http.Request, session Session, table string) {
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	var body struct {
		Updates []struct {
			EntityID      string `json:"entityId"`
			FieldID       string `json:"fieldId"`
			OriginalValue any    `json:"originalValue"`
			NewValue      any    `json:"newValue"`
			Force         bool   `json:"force"`
		} `json:"updates"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(body.Updates) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "updates must not be empty", nil)
		return
	}

	requests := make([]cellstore.UpdateRequest, 0, len(body.Updates))
	for _, u := range body.Updates {
		if strings.TrimSpace(u.EntityID) == "" || strings.TrimSpace(u.FieldID) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "entityId and fieldId are required on every update", nil)
			return
		}
		requests = append(requests, cellstore.UpdateRequest{
			Table:         table,
			EntityID:      u.EntityID,
			FieldID:       u.FieldID,
			OriginalValue: cellstore.Canonical(u.OriginalValue),
			NewValue:      cellstore.Canonical(u.NewValue),
			Force:         u.Force,
		})
	}

	batch, err := s.service.ApplyBatch(r.Context(), session, requests)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	results := make([]map[string]any, 0, len(batch.Results))
	for _, result := range batch.Results {
		results = append(results, map[string]any{
			"success":      result.Success,
			"conflict":     result.Conflict,
			"currentValue": result.CurrentValue,
			"updatedRange": result.UpdatedAddress,
		})
	}

	if len(batch.Conflicts) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "Conflicts detected in batch update",
			"data": map[string]any{
				"conflicts":    batch.Conflicts,
				"results":      results,
				"totalUpdated": batch.Updated,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      batch.Success,
		"totalUpdated": batch.Updated,
		"results":      results,
		"errors":       batch.Errors,
	})
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request, session Session, table string) {
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	entityID := strings.TrimSpace(r.URL.Query().Get("entityId"))
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}

	audits, err := s.service.Audit(r.Context(), table, entityID, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "edits": audits})
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, session Session, table, entityID string) {
	filesSvc := s.service.Attachments()
	if filesSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		attachments, err := filesSvc.List(r.Context(), table, entityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list attachments", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})

	case http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
			return
		}
		defer file.Close()

		attachment, err := filesSvc.Upload(r.Context(), table, entityID, header.Filename,
			header.Header.Get("Content-Type"), file, header.Size)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Upload failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachment": attachment})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeSession(w, session)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeSession(w, session)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

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

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func writeSession(w http.ResponseWriter, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"memberName":   session.MemberName,
		"memberId":     session.MemberID,
		"role":         session.Role,
	})
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, cellstore.ErrCellNotFound) {
		return http.StatusNotFound, "CELL_NOT_FOUND", "Cell not found", nil
	}
	if errors.Is(err, tablestore.ErrTableNotFound) {
		return http.StatusNotFound, "TABLE_NOT_FOUND", "Table not found", nil
	}
	if tablestore.IsUnavailable(err) {
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Table service unavailable", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
