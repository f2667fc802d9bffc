package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"confessional/api/internal/auth"
	"confessional/api/internal/logging"
	"confessional/api/internal/media"
	"confessional/api/internal/metrics"
	"confessional/api/internal/moderation"
	"confessional/api/internal/rbac"
)

const maxSubmitBytes = media.MaxUploadFiles*media.MaxUploadBytes + 1<<20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Collectors
	logger     logging.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, m *metrics.Collectors, logger logging.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: m, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.WithField("admin", session.Username).WithField("role", session.Role).WithField("action", action).Warn("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	isRead := r.Method == http.MethodGet || r.Method == http.MethodHead

	if isRead && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if isRead && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if isRead && r.URL.Path == "/metrics" {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if isRead && r.URL.Path == "/api/confessions" {
		limit := queryInt(r, "limit", 50)
		posts, err := s.service.Feed(r.Context(), limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": posts, "count": len(posts)})
		return
	}

	if isRead && r.URL.Path == "/api/confessions/search" {
		resp, err := s.service.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/confessions/submit" {
		s.handleSubmit(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/confessions/refresh-cache" {
		session, ok := s.requireAction(w, r, rbac.ActionBulk)
		if !ok {
			return
		}
		n, err := s.service.RefreshFeed(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		s.logger.WithField("admin", session.Username).WithField("posts", n).Info("feed cache refreshed")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": n})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "admin" {
		s.handleAdmin(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	route := parts[0]
	itemID := ""
	if len(parts) == 2 {
		itemID = parts[1]
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case route == "pending" && itemID == "" && r.Method == http.MethodGet:
		if _, ok := s.requireAction(w, r, rbac.ActionReview); !ok {
			return
		}
		query := r.URL.Query()
		result, err := s.service.Pending(r.Context(), query.Get("source"), queryInt(r, "page", 1), queryInt(r, "pageSize", moderation.DefaultPageSize))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case route == "stats" && itemID == "" && r.Method == http.MethodGet:
		if _, ok := s.requireAction(w, r, rbac.ActionReview); !ok {
			return
		}
		stats, err := s.service.Stats(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case route == "approve" && itemID != "" && r.Method == http.MethodPost:
		session, ok := s.requireAction(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		var body struct {
			SourceType string `json:"sourceType"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Approve(r.Context(), session, itemID, body.SourceType)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case route == "reject" && itemID != "" && r.Method == http.MethodPost:
		session, ok := s.requireAction(w, r, rbac.ActionReview)
		if !ok {
			return
		}
		var body struct {
			SourceType string `json:"sourceType"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Reject(r.Context(), session, itemID, body.SourceType); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "itemId": itemID})

	case route == "delete" && itemID != "" && r.Method == http.MethodDelete:
		session, ok := s.requireAction(w, r, rbac.ActionDelete)
		if !ok {
			return
		}
		var body struct {
			SourceType string `json:"sourceType"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		source := body.SourceType
		if source == "" {
			source = r.URL.Query().Get("sourceType")
		}
		if err := s.service.Delete(r.Context(), session, itemID, source); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "itemId": itemID})

	case route == "approve-all" && itemID == "" && r.Method == http.MethodPost:
		session, ok := s.requireAction(w, r, rbac.ActionBulk)
		if !ok {
			return
		}
		var body struct {
			SourceFilter string `json:"sourceFilter"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ApproveAll(r.Context(), session, body.SourceFilter)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case route == "delete-all" && itemID == "" && r.Method == http.MethodPost:
		session, ok := s.requireAction(w, r, rbac.ActionBulk)
		if !ok {
			return
		}
		var body struct {
			SourceFilter string `json:"sourceFilter"`
			StatusFilter string `json:"statusFilter"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.DeleteAll(r.Context(), session, body.SourceFilter, body.StatusFilter)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case route == "backfill" && itemID == "" && r.Method == http.MethodPost:
		if _, ok := s.requireAction(w, r, rbac.ActionBulk); !ok {
			return
		}
		report, err := s.service.Backfill(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"adminId":   session.AdminID,
		"username":  session.Username,
		"role":      session.Role,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

// handleSubmit accepts the public multipart form: a content field and up to
// five image files under images[] (or images).
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	var (
		content string
		files   []media.File
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		content = r.FormValue("content")
		var err error
		files, err = readUploads(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
	} else {
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		content = body.Content
	}

	result, err := s.service.Submit(r.Context(), content, files)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func readUploads(r *http.Request) ([]media.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := append(r.MultipartForm.File["images[]"], r.MultipartForm.File["images"]...)
	if len(headers) > media.MaxUploadFiles {
		return nil, media.ErrTooManyFiles
	}
	files := make([]media.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("read upload %s", header.Filename)
		}
		data, err := io.ReadAll(io.LimitReader(f, media.MaxUploadBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s", header.Filename)
		}
		files = append(files, media.File{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return files, nil
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

func (s *HTTPServer) requireAction(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return Session{}, false
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := toDomainError(err)
	if mapped.Status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", requestIDFrom(r.Context())).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, mapped.Status, mapped.Code, mapped.Message, mapped.Details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		took := time.Since(started)
		s.metrics.HTTPRequest(r.Method, writer.status, took)
		s.logger.WithFields(logging.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": took.Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
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

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
