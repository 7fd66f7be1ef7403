package prefs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver used by goose
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PgStore keeps one preferences row per user in PostgreSQL. It is used
// when several consoles share a user profile.
type PgStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPgStore applies the embedded migrations and opens a connection pool.
func NewPgStore(ctx context.Context, dsn string, maxConns int32, opts ...Option) (*PgStore, error) {
	if err := migrate(ctx, dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("prefs: parsing dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("prefs: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prefs: pinging database: %w", err)
	}
	return &PgStore{pool: pool, opts: buildOptions(opts)}, nil
}

// migrate runs goose over a short-lived database/sql handle.
func migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("prefs: opening database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("prefs: setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("prefs: applying migrations: %w", err)
	}
	return nil
}

const selectPreferences = `
SELECT theme, font_size, language, ui_scale, settings
FROM user_preferences
WHERE user_id = $1`

const upsertPreferences = `
INSERT INTO user_preferences (user_id, theme, font_size, language, ui_scale, settings, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id) DO UPDATE SET
    theme      = EXCLUDED.theme,
    font_size  = EXCLUDED.font_size,
    language   = EXCLUDED.language,
    ui_scale   = EXCLUDED.ui_scale,
    settings   = EXCLUDED.settings,
    updated_at = EXCLUDED.updated_at`

// Load returns the caller's row, or the defaults when there is none.
func (s *PgStore) Load(ctx context.Context) (model.Preferences, error) {
	var p model.Preferences
	var settings map[string]any
	err := s.pool.QueryRow(ctx, selectPreferences, userOf(ctx)).
		Scan(&p.Theme, &p.FontSize, &p.Language, &p.UIScale, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultPreferences(), nil
	}
	if err != nil {
		return model.Preferences{}, fmt.Errorf("prefs: loading preferences: %w", err)
	}
	if len(settings) > 0 {
		p.Settings = settings
	}
	return p, nil
}

// Save validates p and upserts the caller's row.
func (s *PgStore) Save(ctx context.Context, p model.Preferences) error {
	err := s.save(ctx, p)
	s.opts.recordSave(err)
	return err
}

func (s *PgStore) save(ctx context.Context, p model.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	settings := p.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	user := userOf(ctx)
	if _, err := s.pool.Exec(ctx, upsertPreferences, user, p.Theme, p.FontSize, p.Language, p.UIScale, settings); err != nil {
		s.opts.logger.Error("saving preferences failed", zap.String("user_id", user), zap.Error(err))
		return fmt.Errorf("prefs: saving preferences: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
