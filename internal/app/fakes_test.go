package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"confessional/api/internal/auth"
	"confessional/api/internal/authpw"
	"confessional/api/internal/config"
	"confessional/api/internal/facebook"
	"confessional/api/internal/media"
	"confessional/api/internal/moderation"
	"confessional/api/internal/search"
	"confessional/api/internal/store"
)

type fakeEngine struct {
	listPendingFn func(filter moderation.SourceFilter, page, pageSize int) (moderation.Page, error)
	approveFn     func(itemID string, st moderation.SourceType, actor string) (moderation.ApprovalResult, error)
	rejectFn      func(itemID string, st moderation.SourceType, actor string) error
	deleteFn      func(itemID string, st moderation.SourceType, actor string) error
	approveAllFn  func(filter moderation.SourceFilter, actor string) (moderation.BulkResult, error)
	deleteAllFn   func(filter moderation.SourceFilter, status, actor string) (moderation.BulkResult, error)
	submitFn      func(content string, files []media.File) (moderation.SubmitResult, error)
	stats         moderation.Stats
}

func (f *fakeEngine) ListPending(ctx context.Context, filter moderation.SourceFilter, page, pageSize int) (moderation.Page, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(filter, page, pageSize)
	}
	return moderation.Page{Items: []moderation.PendingItem{}, Page: page, PageSize: pageSize}, nil
}

func (f *fakeEngine) Approve(ctx context.Context, itemID string, st moderation.SourceType, actor string) (moderation.ApprovalResult, error) {
	if f.approveFn != nil {
		return f.approveFn(itemID, st, actor)
	}
	return moderation.ApprovalResult{ItemID: itemID, SourceType: st, PublicID: 1, Tag: "#ES_1"}, nil
}

func (f *fakeEngine) Reject(ctx context.Context, itemID string, st moderation.SourceType, actor string) error {
	if f.rejectFn != nil {
		return f.rejectFn(itemID, st, actor)
	}
	return nil
}

func (f *fakeEngine) Delete(ctx context.Context, itemID string, st moderation.SourceType, actor string) error {
	if f.deleteFn != nil {
		return f.deleteFn(itemID, st, actor)
	}
	return nil
}

func (f *fakeEngine) ApproveAll(ctx context.Context, filter moderation.SourceFilter, actor string) (moderation.BulkResult, error) {
	if f.approveAllFn != nil {
		return f.approveAllFn(filter, actor)
	}
	return moderation.BulkResult{RunID: "run-1", PerItemResults: []moderation.BulkItemResult{}}, nil
}

func (f *fakeEngine) DeleteAll(ctx context.Context, filter moderation.SourceFilter, status, actor string) (moderation.BulkResult, error) {
	if f.deleteAllFn != nil {
		return f.deleteAllFn(filter, status, actor)
	}
	return moderation.BulkResult{RunID: "run-2", PerItemResults: []moderation.BulkItemResult{}}, nil
}

func (f *fakeEngine) CleanupBackfill(ctx context.Context) (moderation.BackfillReport, error) {
	return moderation.BackfillReport{Scanned: 2, Migrated: 2}, nil
}

func (f *fakeEngine) Stats(ctx context.Context) (moderation.Stats, error) {
	return f.stats, nil
}

func (f *fakeEngine) Submit(ctx context.Context, content string, files []media.File) (moderation.SubmitResult, error) {
	if f.submitFn != nil {
		return f.submitFn(content, files)
	}
	return moderation.SubmitResult{Item: moderation.PendingItem{ID: "sub_1", Content: content}}, nil
}

type fakeFeed struct {
	posts []facebook.Post
	err   error
}

func (f *fakeFeed) Get(ctx context.Context, limit int) ([]facebook.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.posts[:min(limit, len(f.posts))], nil
}

func (f *fakeFeed) Refresh(ctx context.Context) (int, error) {
	return len(f.posts), f.err
}

type fakeSearch struct {
	lastQuery search.Query
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	f.lastQuery = q
	return search.Response{Results: []search.Result{{ID: "sub_1", Snippet: "hit"}}, Total: 1, Query: q.Text}
}

type fakeAdmins struct {
	admins map[string]store.Admin
}

func (f *fakeAdmins) SignIn(ctx context.Context, username, password string) (store.Admin, error) {
	admin, ok := f.admins[username]
	if !ok || password != "correct-horse" {
		return store.Admin{}, authpw.ErrInvalidCredentials
	}
	return admin, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

const testSecret = "test-secret"

func newTestServer(t *testing.T, engine *fakeEngine) (*HTTPServer, *Service) {
	t.Helper()
	cfg := config.Config{JWTSecret: testSecret, AccessTTL: time.Hour}
	svc := New(cfg, Deps{
		Engine: engine,
		Feed:   &fakeFeed{posts: []facebook.Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}},
		Search: &fakeSearch{},
		Admins: &fakeAdmins{admins: map[string]store.Admin{
			"root": {ID: "adm_1", Username: "root", Role: "admin"},
			"mod":  {ID: "adm_2", Username: "mod", Role: "moderator"},
		}},
		DB: &fakePinger{},
	})
	return NewHTTPServer(svc, "*", nil, nil), svc
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, _, err := auth.IssueAccessToken([]byte(testSecret), "adm_"+role, role+"-user", role, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func authorize(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}
