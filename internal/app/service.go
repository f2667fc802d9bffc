package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"confessional/api/internal/auth"
	"confessional/api/internal/authpw"
	"confessional/api/internal/config"
	"confessional/api/internal/facebook"
	"confessional/api/internal/logging"
	"confessional/api/internal/media"
	"confessional/api/internal/moderation"
	"confessional/api/internal/rbac"
	"confessional/api/internal/search"
	"confessional/api/internal/store"
)

// Session is an authenticated admin, reconstructed from the access token.
type Session struct {
	Token     string
	AdminID   string
	Username  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type moderationEngine interface {
	ListPending(ctx context.Context, filter moderation.SourceFilter, page, pageSize int) (moderation.Page, error)
	Approve(ctx context.Context, itemID string, st moderation.SourceType, actor string) (moderation.ApprovalResult, error)
	Reject(ctx context.Context, itemID string, st moderation.SourceType, actor string) error
	Delete(ctx context.Context, itemID string, st moderation.SourceType, actor string) error
	ApproveAll(ctx context.Context, filter moderation.SourceFilter, actor string) (moderation.BulkResult, error)
	DeleteAll(ctx context.Context, filter moderation.SourceFilter, status, actor string) (moderation.BulkResult, error)
	CleanupBackfill(ctx context.Context) (moderation.BackfillReport, error)
	Stats(ctx context.Context) (moderation.Stats, error)
	Submit(ctx context.Context, content string, files []media.File) (moderation.SubmitResult, error)
}

type feedService interface {
	Get(ctx context.Context, limit int) ([]facebook.Post, error)
	Refresh(ctx context.Context) (int, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type adminAuthenticator interface {
	SignIn(ctx context.Context, username, password string) (store.Admin, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine moderationEngine
	Feed   feedService
	Search searchService
	Admins adminAuthenticator
	DB     pinger
	Logger logging.Logger
}

type Service struct {
	cfg    config.Config
	engine moderationEngine
	feed   feedService
	search searchService
	admins adminAuthenticator
	db     pinger
	logger logging.Logger
	now    func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		cfg:    cfg,
		engine: deps.Engine,
		feed:   deps.Feed,
		search: deps.Search,
		admins: deps.Admins,
		db:     deps.DB,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// Login checks admin credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	if s.admins == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	admin, err := s.admins.SignIn(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		}
		return Session{}, err
	}
	token, claims, err := auth.IssueAccessToken([]byte(s.cfg.JWTSecret), admin.ID, admin.Username, admin.Role, s.cfg.AccessTTL, s.now())
	if err != nil {
		return Session{}, err
	}
	s.logger.WithField("admin", admin.Username).WithField("role", admin.Role).Info("admin signed in")
	return sessionFromClaims(token, claims), nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return sessionFromClaims(token, claims), nil
}

func sessionFromClaims(token string, claims auth.Claims) Session {
	return Session{
		Token:     token,
		AdminID:   claims.Subject,
		Username:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Pending lists one page of the queue together with pending counts per
// source.
func (s *Service) Pending(ctx context.Context, rawSource string, page, pageSize int) (map[string]any, error) {
	filter, err := moderation.ParseSourceFilter(rawSource)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.ListPending(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	response := map[string]any{
		"items":       result.Items,
		"total":       result.Total,
		"page":        result.Page,
		"pageSize":    result.PageSize,
		"approximate": result.Approximate,
	}
	if len(result.Degradations) > 0 {
		response["degradations"] = result.Degradations
	}
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("pending stats unavailable")
		return response, nil
	}
	pending := map[string]int{}
	for source, counts := range stats.BySource {
		pending[string(source)] = counts.Pending
	}
	response["pendingBySource"] = pending
	return response, nil
}

func (s *Service) Approve(ctx context.Context, session Session, itemID, rawSource string) (moderation.ApprovalResult, error) {
	st, err := moderation.ParseSourceType(rawSource)
	if err != nil {
		return moderation.ApprovalResult{}, err
	}
	return s.engine.Approve(ctx, itemID, st, session.Username)
}

func (s *Service) Reject(ctx context.Context, session Session, itemID, rawSource string) error {
	st, err := moderation.ParseSourceType(rawSource)
	if err != nil {
		return err
	}
	return s.engine.Reject(ctx, itemID, st, session.Username)
}

func (s *Service) Delete(ctx context.Context, session Session, itemID, rawSource string) error {
	st, err := moderation.ParseSourceType(rawSource)
	if err != nil {
		return err
	}
	return s.engine.Delete(ctx, itemID, st, session.Username)
}

func (s *Service) ApproveAll(ctx context.Context, session Session, rawFilter string) (moderation.BulkResult, error) {
	filter, err := moderation.ParseSourceFilter(rawFilter)
	if err != nil {
		return moderation.BulkResult{}, err
	}
	return s.engine.ApproveAll(ctx, filter, session.Username)
}

func (s *Service) DeleteAll(ctx context.Context, session Session, rawFilter, status string) (moderation.BulkResult, error) {
	filter, err := moderation.ParseSourceFilter(rawFilter)
	if err != nil {
		return moderation.BulkResult{}, err
	}
	return s.engine.DeleteAll(ctx, filter, strings.ToLower(strings.TrimSpace(status)), session.Username)
}

func (s *Service) Backfill(ctx context.Context) (moderation.BackfillReport, error) {
	return s.engine.CleanupBackfill(ctx)
}

func (s *Service) Stats(ctx context.Context) (moderation.Stats, error) {
	return s.engine.Stats(ctx)
}

func (s *Service) Submit(ctx context.Context, content string, files []media.File) (moderation.SubmitResult, error) {
	return s.engine.Submit(ctx, content, files)
}

func (s *Service) Feed(ctx context.Context, limit int) ([]facebook.Post, error) {
	if s.feed == nil {
		return nil, domainError(http.StatusServiceUnavailable, "FEED_UNAVAILABLE", "Public feed not configured", nil)
	}
	posts, err := s.feed.Get(ctx, limit)
	if err != nil {
		return nil, &moderation.CollaboratorError{Collaborator: "publisher", Op: "feed", Err: err}
	}
	return posts, nil
}

func (s *Service) RefreshFeed(ctx context.Context) (int, error) {
	if s.feed == nil {
		return 0, domainError(http.StatusServiceUnavailable, "FEED_UNAVAILABLE", "Public feed not configured", nil)
	}
	n, err := s.feed.Refresh(ctx)
	if err != nil {
		return 0, &moderation.CollaboratorError{Collaborator: "publisher", Op: "feed refresh", Err: err}
	}
	return n, nil
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset}), nil
}
