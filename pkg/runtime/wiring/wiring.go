package wiring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/runtime/export"
	"github.com/de-tools/identity-atlas/pkg/services/audit"
	"github.com/de-tools/identity-atlas/pkg/services/collector/aws"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/de-tools/identity-atlas/pkg/store/duckdb"
	auditstore "github.com/de-tools/identity-atlas/pkg/store/duckdb/audit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Options struct {
	Settings config.Settings
	// ProfilesPath points at an ini credentials file; empty means no profiles.
	ProfilesPath string
	Extended     bool
	Registry     registry.Registry
	// Extra writers are appended after the configured outputs.
	Extra []export.Writer
}

// App is a fully wired audit service together with the resources it owns.
type App struct {
	Service *audit.Service
	// History is nil unless output.duckdb_path is configured.
	History auditstore.Store

	db    *sql.DB
	redis *redis.Client
}

// Build wires the audit service from settings: profile registry, report
// writers, the optional Redis cache and the optional DuckDB history store.
func Build(ctx context.Context, opts Options) (*App, error) {
	logger := zerolog.Ctx(ctx)
	settings := opts.Settings
	app := &App{}

	deps := audit.Dependencies{Registry: opts.Registry}
	if deps.Registry == nil {
		deps.Registry = registry.Default()
	}

	if opts.ProfilesPath != "" {
		profiles, err := config.NewRegistry(opts.ProfilesPath)
		if err != nil {
			return nil, err
		}
		deps.Profiles = profiles
	}

	var writers []export.Writer
	if settings.Output.Path != "" {
		writers = append(writers, export.NewFileWriter(settings.Output.Path))
	}
	if settings.Output.S3Bucket != "" {
		awsCfg, err := aws.LoadConfig(ctx, "", "")
		if err != nil {
			return nil, err
		}
		writers = append(writers, export.NewS3WriterFromConfig(*awsCfg, settings.Output.S3Bucket, settings.Output.S3Key))
	}
	if settings.Output.DuckDBPath != "" {
		db, err := duckdb.NewDB(duckdb.Settings{DbPath: settings.Output.DuckDBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %w", err)
		}
		app.db = db
		store, err := auditstore.NewStore(db)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to create report store: %w", err)
		}
		app.History = store
		writers = append(writers, store)
	}
	writers = append(writers, opts.Extra...)
	deps.Writer = export.MultiWriter(writers...)

	if settings.Cache.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: settings.Cache.RedisAddr})
		deps.Cache = app.redis
		logger.Debug().Str("addr", settings.Cache.RedisAddr).Msg("identity cache enabled")
	}

	service, err := audit.NewService(deps, settings, opts.Extended)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Service = service
	return app, nil
}

// DB is the report store connection, nil when no duckdb path is configured.
func (a *App) DB() *sql.DB {
	return a.db
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close report store: %w", err))
		}
	}
	return errors.Join(errs...)
}
