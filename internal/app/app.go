package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"nexus/internal/config"
	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/service"
	"nexus/internal/storage"
	"nexus/internal/watcher"
)

// App wires storage, services and surfaces from one configuration.
type App struct {
	cfg *config.Config

	db       *storage.DB
	mongo    *storage.MongoPageStore
	sessions *storage.SessionStore
	sweeper  *cron.Cron

	Emitter *service.FanoutEmitter
	Pages   *service.PageService
	Fetcher datasource.Fetcher
}

// New opens storage and builds the services. The document store follows
// cfg.Storage.Driver; history and sessions always live in a SQL database
// (the sqlite file next to a mongo store).
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, Emitter: &service.FanoutEmitter{}}
	a.Emitter.Add(service.LogEmitter{})

	var docs domain.DocumentStore
	switch cfg.Storage.Driver {
	case "mongo", "mongodb":
		m, err := storage.OpenMongo(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		a.mongo = m
		docs = m

		db, err := storage.Open("sqlite", cfg.SQLiteDSN())
		if err != nil {
			m.Close(ctx)
			return nil, fmt.Errorf("open history database: %w", err)
		}
		a.db = db
	default:
		dsn := cfg.Storage.DSN
		if d, _ := storage.ParseDialect(cfg.Storage.Driver); d == storage.DialectSQLite {
			dsn = cfg.SQLiteDSN()
		}
		db, err := storage.Open(cfg.Storage.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		docs = storage.NewPageStore(db)
	}

	a.sessions = storage.NewSessionStore(a.db)
	a.Pages = service.NewPageService(docs, storage.NewHistoryStore(a.db), a.Emitter)
	a.Fetcher = datasource.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.Headers)

	if cfg.Sessions.TTL > 0 {
		a.startSweeper(cfg.Sessions.TTL)
	}
	return a, nil
}

// Close releases storage. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.sweeper != nil {
		<-a.sweeper.Stop().Done()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Close(ctx); err != nil {
			log.Printf("[APP] close mongo: %v", err)
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// startSweeper expires idle sessions hourly.
func (a *App) startSweeper(ttl time.Duration) {
	a.sweeper = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))))
	a.sweeper.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := a.sessions.Expire(ctx, time.Now().Add(-ttl))
		if err != nil {
			log.Printf("[APP] %v", err)
			return
		}
		if n > 0 {
			log.Printf("[APP] expired %d session entries", n)
		}
	})
	a.sweeper.Start()
}

// Viewer is the configured identity used for CLI and MCP renders.
func (a *App) Viewer(sessionID string) domain.Viewer {
	v := domain.Viewer{
		SessionID: sessionID,
		Locale:    a.cfg.Viewer.Locale,
		Timezone:  a.cfg.Viewer.Timezone,
	}
	if id := a.cfg.Viewer.UserID; id != "" {
		v.User = &domain.UserRef{ID: id}
	}
	if id := a.cfg.Viewer.TenantID; id != "" {
		v.Tenant = &domain.TenantRef{ID: id}
	}
	return v
}

// OpenView mounts a stored page for one render. sessionID selects the
// persisted filter context; empty keeps it in memory.
func (a *App) OpenView(ctx context.Context, pageID, sessionID string, opts service.ViewOptions) (*service.PageView, error) {
	page, err := a.Pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	opts.Fetcher = a.Fetcher
	opts.Viewer = a.Viewer(sessionID)
	if sessionID != "" {
		opts.Session = a.sessions.For(sessionID)
	}
	if opts.Emitter == nil {
		opts.Emitter = a.Emitter
	}
	return service.OpenView(ctx, page, opts)
}

// ImportFile loads a document file into pageID.
func (a *App) ImportFile(ctx context.Context, pageID, path string) (*domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.Pages.Import(ctx, pageID, data)
}

// Export writes a page's document as indented JSON.
func (a *App) Export(ctx context.Context, pageID string) ([]byte, error) {
	page, err := a.Pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(page.Document, "", "  ")
}

// Watch imports <pageId>.json files from dir until ctx is cancelled.
// An empty dir falls back to the configured watch directory, then to
// <dataDir>/pages.
func (a *App) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		dir = a.cfg.Watch.Dir
	}
	if dir == "" {
		dir = filepath.Join(a.cfg.DataDir, "pages")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w, err := watcher.New(dir, a.cfg.Watch.Debounce, func(ctx context.Context, pageID string, data []byte) error {
		_, err := a.Pages.Import(ctx, pageID, data)
		return err
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Sync(ctx); err != nil {
		log.Printf("[WATCH] initial sync: %v", err)
	}
	log.Printf("[WATCH] watching %s", dir)
	<-ctx.Done()
	return nil
}
