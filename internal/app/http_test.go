package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"confessional/api/internal/media"
	"confessional/api/internal/moderation"
)

func serve(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if decode(t, rr)["ok"] != true {
		t.Errorf("expected ok=true")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id header")
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	server, svc := newTestServer(t, &fakeEngine{})
	svc.db = &fakePinger{err: errors.New("connection refused")}

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if decode(t, rr)["status"] != "not_ready" {
		t.Errorf("expected not_ready status")
	}
}

func TestLogin(t *testing.T) {
	server, svc := newTestServer(t, &fakeEngine{})

	rr := serve(server, httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"username":"root","password":"correct-horse"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["role"] != "admin" {
		t.Errorf("expected admin role, got %v", payload["role"])
	}
	session, err := svc.SessionFromToken(context.Background(), payload["token"].(string))
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if session.Username != "root" {
		t.Errorf("expected username root, got %s", session.Username)
	}

	rr = serve(server, httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"username":"root","password":"nope"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if decode(t, rr)["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("expected INVALID_CREDENTIALS")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})
	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/admin/pending", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}

	req := authorize(httptest.NewRequest(http.MethodGet, "/api/admin/pending", nil), "garbage")
	if rr := serve(server, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad token, got %d", rr.Code)
	}
}

func TestModeratorCannotRunBulkOrDelete(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})
	token := tokenFor(t, "moderator")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "approve all", method: http.MethodPost, path: "/api/admin/approve-all", body: `{"sourceFilter":"all"}`},
		{name: "delete all", method: http.MethodPost, path: "/api/admin/delete-all", body: `{"statusFilter":"rejected"}`},
		{name: "backfill", method: http.MethodPost, path: "/api/admin/backfill", body: `{}`},
		{name: "delete", method: http.MethodDelete, path: "/api/admin/delete/sub_1", body: `{"sourceType":"document"}`},
		{name: "refresh cache", method: http.MethodPost, path: "/api/confessions/refresh-cache", body: `{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := authorize(httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)), token)
			rr := serve(server, req)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if decode(t, rr)["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN")
			}
		})
	}
}

func TestApproveRouteParsesSourceAlias(t *testing.T) {
	var gotSource moderation.SourceType
	var gotActor string
	engine := &fakeEngine{
		approveFn: func(itemID string, st moderation.SourceType, actor string) (moderation.ApprovalResult, error) {
			gotSource, gotActor = st, actor
			return moderation.ApprovalResult{ItemID: itemID, SourceType: st, PublicID: 2296, Tag: "#ES_2296", PostRef: "p1"}, nil
		},
	}
	server, _ := newTestServer(t, engine)

	req := authorize(httptest.NewRequest(http.MethodPost, "/api/admin/approve/form_abc", strings.NewReader(`{"sourceType":"google_sheets"}`)), tokenFor(t, "moderator"))
	rr := serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotSource != moderation.SourceSheet {
		t.Errorf("expected sheet source, got %s", gotSource)
	}
	if gotActor != "moderator-user" {
		t.Errorf("expected actor from token, got %s", gotActor)
	}
	if decode(t, rr)["publicId"] != float64(2296) {
		t.Errorf("expected publicId 2296")
	}
}

func TestApproveErrorsMapToStatus(t *testing.T) {
	id := 12
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "not found", body: `{"sourceType":"document"}`, err: &moderation.NotFoundError{ItemID: "x", SourceType: moderation.SourceDocument}, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "already processed", body: `{"sourceType":"document"}`, err: &moderation.AlreadyProcessedError{ItemID: "x", Outcome: "approved", PublicID: &id, PostRef: "p"}, status: http.StatusConflict, code: "ALREADY_PROCESSED"},
		{name: "publisher down", body: `{"sourceType":"document"}`, err: &moderation.CollaboratorError{Collaborator: "publisher", Op: "publish", Err: errors.New("boom")}, status: http.StatusBadGateway, code: "UPSTREAM_FAILED"},
		{name: "sheet disabled", body: `{"sourceType":"sheet"}`, err: moderation.ErrSourceDisabled, status: http.StatusServiceUnavailable, code: "SOURCE_DISABLED"},
		{name: "unknown source", body: `{"sourceType":"fax"}`, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{approveFn: func(string, moderation.SourceType, string) (moderation.ApprovalResult, error) {
				return moderation.ApprovalResult{}, tc.err
			}}
			server, _ := newTestServer(t, engine)
			req := authorize(httptest.NewRequest(http.MethodPost, "/api/admin/approve/x", strings.NewReader(tc.body)), tokenFor(t, "admin"))
			rr := serve(server, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if got := decode(t, rr)["code"]; got != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, got)
			}
		})
	}
}

func TestAlreadyProcessedCarriesOriginalIdentifiers(t *testing.T) {
	id := 77
	engine := &fakeEngine{approveFn: func(string, moderation.SourceType, string) (moderation.ApprovalResult, error) {
		return moderation.ApprovalResult{}, &moderation.AlreadyProcessedError{ItemID: "x", Outcome: "approved", PublicID: &id, PostRef: "page_77"}
	}}
	server, _ := newTestServer(t, engine)
	req := authorize(httptest.NewRequest(http.MethodPost, "/api/admin/approve/x", strings.NewReader(`{"sourceType":"document"}`)), tokenFor(t, "admin"))
	details, ok := decode(t, serve(server, req))["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details object")
	}
	if details["publicId"] != float64(77) || details["postRef"] != "page_77" {
		t.Errorf("unexpected details: %v", details)
	}
}

func TestPendingIncludesPerSourceCounts(t *testing.T) {
	var gotFilter moderation.SourceFilter
	engine := &fakeEngine{
		listPendingFn: func(filter moderation.SourceFilter, page, pageSize int) (moderation.Page, error) {
			gotFilter = filter
			return moderation.Page{Items: []moderation.PendingItem{{ID: "sub_1"}}, Total: 1, Page: page, PageSize: pageSize}, nil
		},
		stats: moderation.Stats{BySource: map[moderation.SourceType]moderation.SourceStats{
			moderation.SourceDocument: {Pending: 1},
			moderation.SourceSheet:    {Pending: 4},
		}},
	}
	server, _ := newTestServer(t, engine)
	req := authorize(httptest.NewRequest(http.MethodGet, "/api/admin/pending?source=website&page=2&pageSize=5", nil), tokenFor(t, "moderator"))
	rr := serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotFilter != moderation.FilterDocument {
		t.Errorf("expected document filter, got %s", gotFilter)
	}
	payload := decode(t, rr)
	if payload["page"] != float64(2) || payload["pageSize"] != float64(5) {
		t.Errorf("unexpected paging: %v", payload)
	}
	counts := payload["pendingBySource"].(map[string]any)
	if counts["sheet"] != float64(4) {
		t.Errorf("expected 4 pending sheet rows, got %v", counts["sheet"])
	}
}

func TestDeleteAllPassesStatusFilter(t *testing.T) {
	var gotStatus string
	engine := &fakeEngine{deleteAllFn: func(filter moderation.SourceFilter, status, actor string) (moderation.BulkResult, error) {
		gotStatus = status
		return moderation.BulkResult{RunID: "r", SuccessCount: 3}, nil
	}}
	server, _ := newTestServer(t, engine)
	req := authorize(httptest.NewRequest(http.MethodPost, "/api/admin/delete-all", strings.NewReader(`{"sourceFilter":"all","statusFilter":"Rejected"}`)), tokenFor(t, "admin"))
	rr := serve(server, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotStatus != "rejected" {
		t.Errorf("expected normalized status, got %q", gotStatus)
	}
}

func TestSubmitMultipart(t *testing.T) {
	var gotFiles []media.File
	engine := &fakeEngine{submitFn: func(content string, files []media.File) (moderation.SubmitResult, error) {
		gotFiles = files
		return moderation.SubmitResult{Item: moderation.PendingItem{ID: "sub_9", Content: content}}, nil
	}}
	server, _ := newTestServer(t, engine)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("content", "a confession")
	part, err := mw.CreateFormFile("images[]", "cat.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/confessions/submit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := serve(server, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(gotFiles) != 1 || gotFiles[0].Name != "cat.png" {
		t.Fatalf("expected one uploaded file, got %+v", gotFiles)
	}
}

func TestPublicFeedAndSearch(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/confessions?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if decode(t, rr)["count"] != float64(2) {
		t.Errorf("expected two posts")
	}

	rr = serve(server, httptest.NewRequest(http.MethodGet, "/api/confessions/search?q=cats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if decode(t, rr)["total"] != float64(1) {
		t.Errorf("expected one hit")
	}

	rr = serve(server, httptest.NewRequest(http.MethodGet, "/api/confessions/search?q=", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for empty query, got %d", rr.Code)
	}
}

func TestFeedUpstreamFailure(t *testing.T) {
	server, svc := newTestServer(t, &fakeEngine{})
	svc.feed = &fakeFeed{err: errors.New("graph api down")}

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/api/confessions", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server, _ := newTestServer(t, &fakeEngine{})
	req := authorize(httptest.NewRequest(http.MethodGet, "/api/admin/approve/x/y", nil), tokenFor(t, "admin"))
	if rr := serve(server, req); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
