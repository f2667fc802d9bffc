// Package sheets reads form responses from a Google spreadsheet and keeps
// the spreadsheet's publish log.
package sheets

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"confessional/api/internal/drive"
	"confessional/api/internal/tag"
)

// minStatusIndex keeps the status column clear of the timestamp, content
// and image columns (A to C).
const minStatusIndex = 3

var ErrRowNotFound = errors.New("form response row not found")

var publishedHeader = []interface{}{"ES_ID", "Content", "Published_Date", "FB_Post_ID", "Source"}

// FormResponse is one submitted form row.
type FormResponse struct {
	// Row is the 1-based sheet row number at scan time. It shifts when rows
	// above it are deleted; Key does not.
	Row          int
	Key          string
	RawTimestamp string
	SubmittedAt  time.Time
	Content      string
	ImageLinks   []string
	Status       string
}

type PublishedEntry struct {
	PublicID    int
	Content     string
	PublishedAt time.Time
	PostRef     string
	Source      string
}

type Config struct {
	SpreadsheetID  string
	FormTitle      string
	PublishedTitle string
	StatusColumn   string
	Location       *time.Location
	TagPrefix      string
}

type Store struct {
	api            spreadsheetAPI
	formTitle      string
	publishedTitle string
	statusColumn   string
	statusIndex    int
	loc            *time.Location
	prefix         string

	mu             sync.Mutex
	publishedReady bool
}

// New connects with a service account credentials file.
func New(ctx context.Context, credentialsPath string, cfg Config, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(gsheets.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newStore(apiSpreadsheet{svc: svc, id: cfg.SpreadsheetID}, cfg), nil
}

func newStore(api spreadsheetAPI, cfg Config) *Store {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	statusIndex, ok := columnIndex(cfg.StatusColumn)
	if !ok || statusIndex < minStatusIndex {
		cfg.StatusColumn, statusIndex = "E", 4
	}
	if cfg.PublishedTitle == "" {
		cfg.PublishedTitle = "Published_Confessions"
	}
	return &Store{
		api:            api,
		formTitle:      cfg.FormTitle,
		publishedTitle: cfg.PublishedTitle,
		statusColumn:   strings.ToUpper(strings.TrimSpace(cfg.StatusColumn)),
		statusIndex:    statusIndex,
		loc:            cfg.Location,
		prefix:         cfg.TagPrefix,
	}
}

// StableKey identifies a form row independently of its position. Two rows
// with the same timestamp and the same content collapse onto one key; the
// form's one-second timestamp resolution makes that a duplicate submission
// in practice.
func StableKey(rawTimestamp, content string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(rawTimestamp) + "\x1f" + strings.TrimSpace(content)))
	return "form_" + hex.EncodeToString(sum[:])[:16]
}

var timestampLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006",
}

// ParseTimestamp reads the form's day-first timestamp in loc, falling back
// to RFC 3339. Unparseable input yields the zero time.
func ParseTimestamp(raw string, loc *time.Location) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed
		}
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	return time.Time{}
}

// FormResponses scans the whole response sheet. Rows without content are
// skipped.
func (s *Store) FormResponses(ctx context.Context) ([]FormResponse, error) {
	rows, err := s.api.GetValues(ctx, s.responsesRange())
	if err != nil {
		return nil, fmt.Errorf("read form responses: %w", err)
	}
	responses := make([]FormResponse, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		content := strings.TrimSpace(cell(row, 1))
		if content == "" {
			continue
		}
		raw := strings.TrimSpace(cell(row, 0))
		responses = append(responses, FormResponse{
			Row:          i + 1,
			Key:          StableKey(raw, content),
			RawTimestamp: raw,
			SubmittedAt:  ParseTimestamp(raw, s.loc),
			Content:      content,
			ImageLinks:   drive.SplitLinks(cell(row, 2)),
			Status:       strings.ToLower(strings.TrimSpace(cell(row, s.statusIndex))),
		})
	}
	return responses, nil
}

// Find locates a response by stable key with a fresh scan.
func (s *Store) Find(ctx context.Context, key string) (FormResponse, error) {
	responses, err := s.FormResponses(ctx)
	if err != nil {
		return FormResponse{}, err
	}
	for _, resp := range responses {
		if resp.Key == key {
			return resp, nil
		}
	}
	return FormResponse{}, ErrRowNotFound
}

// DeleteRow removes the response row identified by key. The row is located
// by a fresh scan so earlier deletions do not shift the target.
func (s *Store) DeleteRow(ctx context.Context, key string) error {
	resp, err := s.Find(ctx, key)
	if err != nil {
		return err
	}
	ids, err := s.api.SheetIDs(ctx)
	if err != nil {
		return fmt.Errorf("read sheet ids: %w", err)
	}
	sheetID, ok := ids[s.formTitle]
	if !ok {
		return fmt.Errorf("sheet %q not found", s.formTitle)
	}
	err = s.api.BatchUpdate(ctx, []*gsheets.Request{{
		DeleteDimension: &gsheets.DeleteDimensionRequest{
			Range: &gsheets.DimensionRange{
				SheetId:    sheetID,
				Dimension:  "ROWS",
				StartIndex: int64(resp.Row - 1),
				EndIndex:   int64(resp.Row),
			},
		},
	}})
	if err != nil {
		return fmt.Errorf("delete form row %d: %w", resp.Row, err)
	}
	return nil
}

// WriteStatus overwrites the status cell of the response identified by key.
// Like DeleteRow it rescans first: row numbers shift whenever a row above is
// deleted.
func (s *Store) WriteStatus(ctx context.Context, key, status string) error {
	resp, err := s.Find(ctx, key)
	if err != nil {
		return err
	}
	rng := quoteTitle(s.formTitle) + "!" + s.statusColumn + strconv.Itoa(resp.Row)
	if err := s.api.UpdateValues(ctx, rng, [][]interface{}{{status}}); err != nil {
		return fmt.Errorf("write status row %d: %w", resp.Row, err)
	}
	return nil
}

// responsesRange spans column A through the status column, never narrower
// than A:E.
func (s *Store) responsesRange() string {
	last := "E"
	if s.statusIndex > 4 {
		last = s.statusColumn
	}
	return quoteTitle(s.formTitle) + "!A:" + last
}

// columnIndex converts a column letter ("E", "AA") to its 0-based index.
func columnIndex(column string) (int, bool) {
	column = strings.ToUpper(strings.TrimSpace(column))
	if column == "" {
		return 0, false
	}
	n := 0
	for _, r := range column {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, true
}

// AppendPublished records a publication in the publish log, creating the
// log sheet on first use.
func (s *Store) AppendPublished(ctx context.Context, entry PublishedEntry) error {
	if err := s.ensurePublishedSheet(ctx); err != nil {
		return err
	}
	row := []interface{}{
		tag.Format(s.prefix, entry.PublicID),
		entry.Content,
		entry.PublishedAt.UTC().Format(time.RFC3339),
		entry.PostRef,
		entry.Source,
	}
	if err := s.api.AppendValues(ctx, quoteTitle(s.publishedTitle)+"!A:E", [][]interface{}{row}); err != nil {
		return fmt.Errorf("append publish log: %w", err)
	}
	return nil
}

func (s *Store) ensurePublishedSheet(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishedReady {
		return nil
	}
	ids, err := s.api.SheetIDs(ctx)
	if err != nil {
		return fmt.Errorf("read sheet ids: %w", err)
	}
	if _, ok := ids[s.publishedTitle]; !ok {
		err := s.api.BatchUpdate(ctx, []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: s.publishedTitle}},
		}})
		if err != nil {
			return fmt.Errorf("create publish log sheet: %w", err)
		}
		if err := s.api.UpdateValues(ctx, quoteTitle(s.publishedTitle)+"!A1:E1", [][]interface{}{publishedHeader}); err != nil {
			return fmt.Errorf("write publish log header: %w", err)
		}
	}
	s.publishedReady = true
	return nil
}

// PublishedTags returns the ids of the last limit log rows, newest first.
// Cells that do not hold a tag are skipped.
func (s *Store) PublishedTags(ctx context.Context, limit int) ([]int, error) {
	ids, err := s.publishedIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ids[i])
	}
	return out, nil
}

func (s *Store) PublishedCount(ctx context.Context) (int, error) {
	ids, err := s.publishedIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) publishedIDs(ctx context.Context) ([]int, error) {
	rows, err := s.api.GetValues(ctx, quoteTitle(s.publishedTitle)+"!A:A")
	if err != nil {
		return nil, fmt.Errorf("read publish log: %w", err)
	}
	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		if id, ok := tag.ParseLenient(s.prefix, cell(row, 0)); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cell(row []interface{}, idx int) string {
	if idx >= len(row) || row[idx] == nil {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return fmt.Sprint(row[idx])
}
