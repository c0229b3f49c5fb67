package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/devlift/internal/ai"
	"github.com/tbourn/devlift/internal/config"
	"github.com/tbourn/devlift/internal/housekeeping"
	httpapi "github.com/tbourn/devlift/internal/http"
	"github.com/tbourn/devlift/internal/quota"
	"github.com/tbourn/devlift/internal/repo"
	"github.com/tbourn/devlift/internal/services"
	"github.com/tbourn/devlift/internal/source"
	"github.com/tbourn/devlift/internal/workspace"
)

// app is the assembled object graph shared by the commands.
type app struct {
	cfg        config.Config
	db         *gorm.DB
	tracker    *quota.Tracker
	docs       *source.DocumentStore
	workspaces *workspace.Manager
	generation *services.GenerationService
	documents  *services.DocumentService
	github     *source.GitHub
}

// openDB opens the database, installs tracing and migrates the schema.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newQuotaStore(cfg config.Config, db *gorm.DB) quota.Store {
	if cfg.Quota.Store == "memory" {
		return quota.NewMemoryStore()
	}
	return quota.DBStore{DB: db}
}

// buildApp wires every collaborator from cfg. Close releases what it opened.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db}

	if a.tracker, err = quota.NewTracker(newQuotaStore(cfg, db), cfg.Quota.Policies); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if a.docs, err = source.OpenDocumentStore(ctx, cfg.Documents.BucketURL); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if a.github, err = source.NewGitHub(ctx, cfg.GitHub.Token, cfg.GitHub.APIURL); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.workspaces = workspace.NewManager(cfg.Workspace.Root, cfg.Workspace.Prefix, cfg.Workspace.CloneBaseURL,
		workspace.GitCloner{Token: cfg.GitHub.Token, Depth: cfg.Workspace.CloneDepth})

	gen := services.NewGenerationService(db, a.tracker)
	gen.Workspaces = a.workspaces
	gen.Trees = workspace.NewBuilder(cfg.Workspace.TreeMaxEntries, cfg.Workspace.Exclude...)
	gen.Repos = a.github
	gen.Blobs = a.docs
	gen.Extractor = source.NewTikaExtractor(cfg.Documents.TikaURL, nil)
	gen.AI = ai.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	gen.Timeout = cfg.Generation.Timeout
	gen.ArtifactTTL = cfg.Generation.ArtifactTTL
	gen.IdempotencyTTL = cfg.IdempotencyTTL
	gen.MaxFileRunes = cfg.Generation.MaxFileRunes
	gen.ResumeTopRepos = cfg.Generation.ResumeTopRepos
	a.generation = gen

	a.documents = services.NewDocumentService(db, a.docs)
	a.documents.MaxBytes = cfg.Documents.MaxBytes

	if cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty; generation requests will fail upstream")
	}
	return a, nil
}

// httpServices returns the HTTP collaborators. The account endpoints need a
// token, so without one GitHub stays nil and those routes answer 503.
func (a *app) httpServices() httpapi.Services {
	svcs := httpapi.Services{Generation: a.generation, Documents: a.documents}
	if a.cfg.GitHub.Token != "" {
		svcs.GitHub = a.github
	}
	return svcs
}

// jobs returns the housekeeping jobs for this app.
func (a *app) jobs() []housekeeping.Job {
	return housekeeping.StandardJobs(housekeeping.Options{
		DB:              a.db,
		Quota:           a.tracker,
		Workspaces:      a.workspaces,
		QuotaInterval:   a.cfg.Quota.SweepInterval,
		CleanupInterval: a.cfg.CleanupInterval,
		StaleAfter:      a.cfg.Workspace.StaleAfter,
	})
}

// Close releases the document bucket and the database handle.
func (a *app) Close() error {
	var errs []error
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
