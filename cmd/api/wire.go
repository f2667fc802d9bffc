package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"confessional/api/internal/app"
	"confessional/api/internal/authpw"
	"confessional/api/internal/config"
	"confessional/api/internal/drive"
	"confessional/api/internal/facebook"
	"confessional/api/internal/feedcache"
	"confessional/api/internal/imagehost"
	"confessional/api/internal/logging"
	"confessional/api/internal/metrics"
	"confessional/api/internal/moderation"
	"confessional/api/internal/search"
	"confessional/api/internal/sheets"
	"confessional/api/internal/store"
)

// runtime is every wired component of one process.
type runtime struct {
	logger  logging.Logger
	db      *sql.DB
	store   *store.PostgresStore
	metrics *metrics.Collectors
	engine  *moderation.Engine
	search  *search.Service
	feed    *feedcache.Feed
	admins  *authpw.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (r *runtime) appDeps() app.Deps {
	deps := app.Deps{
		Engine: r.engine,
		Search: r.search,
		Admins: r.admins,
		DB:     r.store,
		Logger: r.logger,
	}
	if r.feed != nil {
		deps.Feed = r.feed
	}
	return deps
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg config.Config, logger logging.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, err
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, version := range applied {
		logger.WithField("version", version).Info("applied migration")
	}
	return db, nil
}

// buildRuntime wires the configured collaborators. Optional ones that fail
// to start are logged and left out; the engine then reports them disabled.
func buildRuntime(ctx context.Context, cfg config.Config, logger logging.Logger) (*runtime, error) {
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		logger:  logger,
		db:      db,
		store:   store.NewPostgresStore(db),
		metrics: metrics.New(),
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	rt.admins = authpw.NewService(rt.store)

	deps := moderation.Deps{
		Documents: rt.store,
		Ledger:    rt.store,
		Metrics:   rt.metrics,
		Logger:    logger.WithField("component", "moderation"),
	}

	if cfg.SheetsEnabled() {
		sheetStore, acquirer, err := buildSheets(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Error("spreadsheet source disabled")
		} else {
			deps.Sheets = sheetStore
			deps.PublishLog = sheetStore
			if acquirer != nil {
				deps.Acquirer = acquirer
			}
		}
	}

	var fb *facebook.Client
	if cfg.FacebookEnabled() {
		fb = facebook.NewClient(cfg.FacebookPageID, cfg.FacebookPageToken,
			facebook.WithBaseURL(cfg.FacebookGraphURL),
			facebook.WithLogger(logger.WithField("component", "facebook")),
			facebook.WithTagPrefix(cfg.PublicIDPrefix),
		)
		deps.Publisher = fb
	} else {
		logger.Warn("facebook page not configured, approvals will fail")
	}

	if cfg.ImageHostEnabled() {
		host, err := imagehost.New(ctx, imagehost.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			logger.WithError(err).Error("image host disabled")
		} else {
			deps.ImageHost = host
		}
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		rt.closers = append(rt.closers, meili.Close)
	}
	rt.search = search.NewService(meili, search.NewPgFTS(db), cfg.PublicIDPrefix, logger)
	deps.Indexer = rt.search

	rt.engine = moderation.New(deps, moderation.Options{
		TagPrefix:     cfg.PublicIDPrefix,
		Seed:          cfg.PublicIDSeed,
		HistoryWindow: cfg.PublicIDHistory,
		Pacing:        cfg.BulkPacing,
	})

	if fb != nil {
		var cache feedcache.Cache
		if strings.TrimSpace(cfg.RedisURL) != "" {
			redisStore, err := feedcache.NewRedisStore(cfg.RedisURL)
			if err != nil {
				logger.WithError(err).Warn("feed cache disabled")
			} else {
				cache = redisStore
				rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
			}
		}
		rt.feed = feedcache.NewFeed(fb, cache, cfg.FeedCacheTTL, cfg.FeedMaxPosts, rt.metrics, logger.WithField("component", "feed"))
	}

	return rt, nil
}

func buildSheets(ctx context.Context, cfg config.Config, logger logging.Logger) (*sheets.Store, *drive.Acquirer, error) {
	loc, err := time.LoadLocation(cfg.SheetTimezone)
	if err != nil {
		return nil, nil, fmt.Errorf("load sheet timezone %q: %w", cfg.SheetTimezone, err)
	}
	sheetStore, err := sheets.New(ctx, cfg.GoogleCredentialsPath, sheets.Config{
		SpreadsheetID:  cfg.SheetID,
		FormTitle:      cfg.SheetFormTitle,
		PublishedTitle: cfg.SheetPublishedTitle,
		StatusColumn:   cfg.SheetStatusColumn,
		Location:       loc,
		TagPrefix:      cfg.PublicIDPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	acquirer, err := drive.New(ctx, cfg.GoogleCredentialsPath, logger.WithField("component", "drive"))
	if err != nil {
		// rows still publish, text only
		logger.WithError(err).Warn("drive image download disabled")
		return sheetStore, nil, nil
	}
	return sheetStore, acquirer, nil
}
