package moderation

import (
	"context"
	"time"

	"confessional/api/internal/facebook"
	"confessional/api/internal/logging"
	"confessional/api/internal/media"
	"confessional/api/internal/metrics"
	"confessional/api/internal/sheets"
	"confessional/api/internal/store"
)

type DocumentStore interface {
	InsertSubmission(ctx context.Context, sub store.Submission) (store.Submission, error)
	GetSubmission(ctx context.Context, id string) (store.Submission, error)
	ListPendingSubmissions(ctx context.Context, offset, limit int) ([]store.Submission, error)
	ListSubmissionsByStatus(ctx context.Context, status string) ([]store.Submission, error)
	CountSubmissionsByStatus(ctx context.Context) (map[string]int, error)
	DeleteSubmission(ctx context.Context, id string) (bool, error)
	MarkSubmissionApproved(ctx context.Context, id string, publicID int, postRef, approvedBy string, at time.Time) error
	RecentApprovedPublicIDs(ctx context.Context, limit int) ([]int, error)
}

type Ledger interface {
	UpsertProcessed(ctx context.Context, rec store.ProcessedRecord) (bool, error)
	GetProcessed(ctx context.Context, itemID string) (store.ProcessedRecord, error)
	ListProcessedKeys(ctx context.Context, source string) (map[string]struct{}, error)
	RecentProcessedPublicIDs(ctx context.Context, limit int) ([]int, error)
	CountProcessedByOutcome(ctx context.Context) (map[string]map[string]int, error)
}

type SheetStore interface {
	FormResponses(ctx context.Context) ([]sheets.FormResponse, error)
	Find(ctx context.Context, key string) (sheets.FormResponse, error)
	DeleteRow(ctx context.Context, key string) error
	// WriteStatus locates the row by key before writing its status cell.
	WriteStatus(ctx context.Context, key, status string) error
}

// PublishLog is the spreadsheet's append-only record of publications.
type PublishLog interface {
	AppendPublished(ctx context.Context, entry sheets.PublishedEntry) error
	PublishedTags(ctx context.Context, limit int) ([]int, error)
	PublishedCount(ctx context.Context) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, req facebook.PublishRequest) (facebook.Published, error)
	RecentPublicIDs(ctx context.Context, limit int) ([]int, error)
}

type ImageAcquirer interface {
	FetchMany(ctx context.Context, links []string) ([]media.File, error)
}

type ImageHost interface {
	UploadMany(ctx context.Context, files []media.File) ([]string, error)
}

// Indexer receives published records for search. Calls must not block.
type Indexer interface {
	IndexPublished(rec store.ProcessedRecord)
}

type Deps struct {
	Documents DocumentStore
	Ledger    Ledger
	// Sheets, PublishLog, Acquirer, ImageHost and Indexer are optional.
	Sheets     SheetStore
	PublishLog PublishLog
	Publisher  Publisher
	Acquirer   ImageAcquirer
	ImageHost  ImageHost
	Indexer    Indexer
	Metrics    *metrics.Collectors
	Logger     logging.Logger
}

type Options struct {
	TagPrefix string
	// Seed is the next id used when no observer has any history.
	Seed int
	// HistoryWindow bounds how many recent ids each observer reads.
	HistoryWindow int
	// Pacing is the pause between items of a bulk run.
	Pacing time.Duration
	// ObserverTimeout caps each sequence observer.
	ObserverTimeout time.Duration
}

type Engine struct {
	documents  DocumentStore
	ledger     Ledger
	sheets     SheetStore
	publishLog PublishLog
	publisher  Publisher
	acquirer   ImageAcquirer
	imageHost  ImageHost
	indexer    Indexer
	metrics    *metrics.Collectors
	logger     logging.Logger
	opts       Options

	// approvals serializes id allocation through archival within this
	// process. Separate processes are not excluded.
	approvals chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, opts Options) *Engine {
	if opts.TagPrefix == "" {
		opts.TagPrefix = "ES"
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 100
	}
	if opts.ObserverTimeout <= 0 {
		opts.ObserverTimeout = 15 * time.Second
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		documents:  deps.Documents,
		ledger:     deps.Ledger,
		sheets:     deps.Sheets,
		publishLog: deps.PublishLog,
		publisher:  deps.Publisher,
		acquirer:   deps.Acquirer,
		imageHost:  deps.ImageHost,
		indexer:    deps.Indexer,
		metrics:    deps.Metrics,
		logger:     logger,
		opts:       opts,
		approvals:  make(chan struct{}, 1),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func (e *Engine) lockApprovals(ctx context.Context) error {
	select {
	case e.approvals <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) unlockApprovals() {
	<-e.approvals
}

// source selects the per-source behaviour once, at the boundary.
func (e *Engine) source(st SourceType) (source, error) {
	switch st {
	case SourceDocument:
		return &documentSource{e: e}, nil
	case SourceSheet:
		if e.sheets == nil {
			return nil, ErrSourceDisabled
		}
		return &sheetSource{e: e}, nil
	default:
		return nil, &ValidationError{Field: "sourceType", Message: "unknown source " + string(st)}
	}
}

// sources lists the configured sources the filter selects.
func (e *Engine) sources(filter SourceFilter) ([]source, error) {
	if filter != FilterAll {
		src, err := e.source(SourceType(filter))
		if err != nil {
			return nil, err
		}
		return []source{src}, nil
	}
	out := []source{&documentSource{e: e}}
	if e.sheets != nil {
		out = append(out, &sheetSource{e: e})
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
