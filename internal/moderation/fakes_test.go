package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"confessional/api/internal/facebook"
	"confessional/api/internal/media"
	"confessional/api/internal/sheets"
	"confessional/api/internal/store"
	"confessional/api/internal/tag"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeDocs struct {
	mu        sync.Mutex
	subs      map[string]store.Submission
	deleteErr error
}

func newFakeDocs(subs ...store.Submission) *fakeDocs {
	f := &fakeDocs{subs: map[string]store.Submission{}}
	for _, sub := range subs {
		if sub.Status == "" {
			sub.Status = store.StatusPending
		}
		sub.Source = store.SourceDocument
		f.subs[sub.ID] = sub
	}
	return f
}

func (f *fakeDocs) sorted(status string) []store.Submission {
	var out []store.Submission
	for _, sub := range f.subs {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

func (f *fakeDocs) InsertSubmission(ctx context.Context, sub store.Submission) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
	return sub, nil
}

func (f *fakeDocs) GetSubmission(ctx context.Context, id string) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return store.Submission{}, sql.ErrNoRows
	}
	return sub, nil
}

func (f *fakeDocs) ListPendingSubmissions(ctx context.Context, offset, limit int) ([]store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.sorted(store.StatusPending)
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (f *fakeDocs) ListSubmissionsByStatus(ctx context.Context, status string) ([]store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(status), nil
}

func (f *fakeDocs) CountSubmissionsByStatus(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, sub := range f.subs {
		out[sub.Status]++
	}
	return out, nil
}

func (f *fakeDocs) DeleteSubmission(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	if _, ok := f.subs[id]; !ok {
		return false, nil
	}
	delete(f.subs, id)
	return true, nil
}

func (f *fakeDocs) MarkSubmissionApproved(ctx context.Context, id string, publicID int, postRef, approvedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return sql.ErrNoRows
	}
	sub.Status = store.StatusApproved
	sub.PublicID = &publicID
	sub.PostRef = &postRef
	sub.ApprovedBy = &approvedBy
	sub.ApprovedAt = &at
	f.subs[id] = sub
	return nil
}

func (f *fakeDocs) RecentApprovedPublicIDs(ctx context.Context, limit int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for _, sub := range f.subs {
		if sub.Status == store.StatusApproved && sub.PublicID != nil {
			ids = append(ids, *sub.PublicID)
		}
	}
	return ids, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	recs      map[string]store.ProcessedRecord
	upsertErr error
	// upsertFn, when set, can fail individual writes
	upsertFn func(rec store.ProcessedRecord) error
}

func newFakeLedger(recs ...store.ProcessedRecord) *fakeLedger {
	f := &fakeLedger{recs: map[string]store.ProcessedRecord{}}
	for _, rec := range recs {
		f.recs[rec.ItemID] = rec
	}
	return f
}

func (f *fakeLedger) UpsertProcessed(ctx context.Context, rec store.ProcessedRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	if f.upsertFn != nil {
		if err := f.upsertFn(rec); err != nil {
			return false, err
		}
	}
	existing, ok := f.recs[rec.ItemID]
	if ok && !(existing.Outcome == store.OutcomeDeleted && rec.Outcome == store.OutcomeRejected) {
		return false, nil
	}
	f.recs[rec.ItemID] = rec
	return true, nil
}

func (f *fakeLedger) GetProcessed(ctx context.Context, itemID string) (store.ProcessedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[itemID]
	if !ok {
		return store.ProcessedRecord{}, sql.ErrNoRows
	}
	return rec, nil
}

func (f *fakeLedger) ListProcessedKeys(ctx context.Context, source string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for id, rec := range f.recs {
		if rec.Source == source {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeLedger) RecentProcessedPublicIDs(ctx context.Context, limit int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for _, rec := range f.recs {
		if rec.PublicID != nil {
			ids = append(ids, *rec.PublicID)
		}
	}
	return ids, nil
}

func (f *fakeLedger) CountProcessedByOutcome(ctx context.Context) (map[string]map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]map[string]int{}
	for _, rec := range f.recs {
		if out[rec.Source] == nil {
			out[rec.Source] = map[string]int{}
		}
		out[rec.Source][rec.Outcome]++
	}
	return out, nil
}

func (f *fakeLedger) get(id string) (store.ProcessedRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	return rec, ok
}

// fakeSheet holds form rows; Row numbers are assigned at scan time like the
// real sheet, header at row 1.
type fakeSheet struct {
	mu       sync.Mutex
	rows     []sheets.FormResponse
	statuses map[string]string

	scanErr   error
	deleteErr error
}

func newFakeSheet(rows ...sheets.FormResponse) *fakeSheet {
	return &fakeSheet{rows: rows, statuses: map[string]string{}}
}

func sheetRow(key, content string, at time.Time, links ...string) sheets.FormResponse {
	return sheets.FormResponse{Key: key, Content: content, SubmittedAt: at, ImageLinks: links}
}

func (f *fakeSheet) FormResponses(ctx context.Context) ([]sheets.FormResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := make([]sheets.FormResponse, len(f.rows))
	for i, row := range f.rows {
		row.Row = i + 2
		out[i] = row
	}
	return out, nil
}

func (f *fakeSheet) Find(ctx context.Context, key string) (sheets.FormResponse, error) {
	rows, err := f.FormResponses(ctx)
	if err != nil {
		return sheets.FormResponse{}, err
	}
	for _, row := range rows {
		if row.Key == key {
			return row, nil
		}
	}
	return sheets.FormResponse{}, sheets.ErrRowNotFound
}

func (f *fakeSheet) DeleteRow(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, row := range f.rows {
		if row.Key == key {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return sheets.ErrRowNotFound
}

func (f *fakeSheet) WriteStatus(ctx context.Context, key, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.rows {
		if row.Key == key {
			f.rows[i].Status = status
			f.statuses[key] = status
			return nil
		}
	}
	return sheets.ErrRowNotFound
}

func (f *fakeSheet) status(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Key == key {
			return row.Status
		}
	}
	return ""
}

func (f *fakeSheet) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Key == key {
			return true
		}
	}
	return false
}

type fakePublishLog struct {
	mu        sync.Mutex
	history   []int
	entries   []sheets.PublishedEntry
	appendErr error
}

func (f *fakePublishLog) AppendPublished(ctx context.Context, entry sheets.PublishedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakePublishLog) PublishedTags(ctx context.Context, limit int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]int(nil), f.history...)
	for _, e := range f.entries {
		ids = append(ids, e.PublicID)
	}
	return ids, nil
}

func (f *fakePublishLog) PublishedCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history) + len(f.entries), nil
}

type fakePublisher struct {
	mu        sync.Mutex
	history   []int
	requests  []facebook.PublishRequest
	publishFn func(req facebook.PublishRequest) (facebook.Published, error)
	recentErr error
}

func (f *fakePublisher) Publish(ctx context.Context, req facebook.PublishRequest) (facebook.Published, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishFn != nil {
		published, err := f.publishFn(req)
		if err != nil {
			return facebook.Published{}, err
		}
		f.record(req)
		return published, nil
	}
	f.record(req)
	return facebook.Published{PostID: fmt.Sprintf("page_post%d", len(f.requests))}, nil
}

func (f *fakePublisher) record(req facebook.PublishRequest) {
	f.requests = append(f.requests, req)
	if id, ok := tag.Parse("ES", req.Message); ok {
		f.history = append(f.history, id)
	}
}

func (f *fakePublisher) RecentPublicIDs(ctx context.Context, limit int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return append([]int(nil), f.history...), nil
}

func (f *fakePublisher) published() []facebook.PublishRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]facebook.PublishRequest(nil), f.requests...)
}

type fakeAcquirer struct {
	fetchFn func(links []string) ([]media.File, error)
}

func (f *fakeAcquirer) FetchMany(ctx context.Context, links []string) ([]media.File, error) {
	if f.fetchFn != nil {
		return f.fetchFn(links)
	}
	files := make([]media.File, len(links))
	for i := range links {
		files[i] = media.File{Name: fmt.Sprintf("img%d.jpg", i), MimeType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
	}
	return files, nil
}

type fakeHost struct {
	err error
}

func (f *fakeHost) UploadMany(ctx context.Context, files []media.File) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	urls := make([]string, len(files))
	for i := range files {
		urls[i] = fmt.Sprintf("https://cdn.test/uploads/%d.png", i)
	}
	return urls, nil
}

type fakeIndexer struct {
	mu   sync.Mutex
	recs []store.ProcessedRecord
}

func (f *fakeIndexer) IndexPublished(rec store.ProcessedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

type harness struct {
	engine    *Engine
	docs      *fakeDocs
	ledger    *fakeLedger
	sheet     *fakeSheet
	log       *fakePublishLog
	publisher *fakePublisher
	acquirer  *fakeAcquirer
	indexer   *fakeIndexer
	sleeps    int
}

func newHarness(docs *fakeDocs, sheet *fakeSheet) *harness {
	h := &harness{
		docs:      docs,
		ledger:    newFakeLedger(),
		sheet:     sheet,
		log:       &fakePublishLog{},
		publisher: &fakePublisher{},
		acquirer:  &fakeAcquirer{},
		indexer:   &fakeIndexer{},
	}
	deps := Deps{
		Documents:  docs,
		Ledger:     h.ledger,
		PublishLog: h.log,
		Publisher:  h.publisher,
		Acquirer:   h.acquirer,
		ImageHost:  &fakeHost{},
		Indexer:    h.indexer,
	}
	if sheet != nil {
		deps.Sheets = sheet
	}
	h.engine = New(deps, Options{Seed: 2290, Pacing: time.Second})
	h.engine.now = func() time.Time { return baseTime.Add(time.Hour) }
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps++
		return nil
	}
	return h
}

func pendingDoc(id, content string, at time.Time, images ...string) store.Submission {
	return store.Submission{ID: id, Content: content, Images: images, Status: store.StatusPending, SubmittedAt: at}
}

func intPtr(v int) *int { return &v }
