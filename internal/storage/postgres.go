package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/models"
)

const defaultPostgresTimeout = 5 * time.Second

// PostgresConfig describes how the repository initialises its connection
// pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
	RequestTimeout  time.Duration
}

// PostgresRepository stores asset records in a single assets table with the
// variants checkpoint held as jsonb. Updates run inside a transaction with a
// row lock so the read-modify-write merge of hlsParts is safe under
// at-least-once redelivery.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository opens the pool and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &PostgresRepository{pool: pool, timeout: cfg.RequestTimeout}
	if repo.timeout <= 0 {
		repo.timeout = defaultPostgresTimeout
	}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS assets (
    id               TEXT PRIMARY KEY,
    kind             TEXT NOT NULL,
    bucket           TEXT NOT NULL,
    object_key       TEXT NOT NULL,
    content_type     TEXT NOT NULL DEFAULT '',
    file_name        TEXT NOT NULL DEFAULT '',
    file_size        BIGINT NOT NULL DEFAULT 0,
    width            INTEGER NOT NULL DEFAULT 0,
    height           INTEGER NOT NULL DEFAULT 0,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'queued',
    progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
    error            TEXT NOT NULL DEFAULT '',
    variants         JSONB NOT NULL DEFAULT '{}'::jsonb,
    result_key       TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS assets_status_idx ON assets (status);
`)
	if err != nil {
		return fmt.Errorf("ensure assets schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

const assetColumns = `id, kind, bucket, object_key, content_type, file_name, file_size,
width, height, duration_seconds, status, progress, error, variants, result_key,
created_at, updated_at`

func scanAsset(row pgx.Row) (models.Asset, error) {
	var asset models.Asset
	var variants []byte
	err := row.Scan(
		&asset.ID, &asset.Kind, &asset.Bucket, &asset.ObjectKey, &asset.ContentType,
		&asset.FileName, &asset.FileSize, &asset.Width, &asset.Height,
		&asset.DurationSeconds, &asset.Status, &asset.Progress, &asset.Error,
		&variants, &asset.ResultKey, &asset.CreatedAt, &asset.UpdatedAt,
	)
	if err != nil {
		return models.Asset{}, err
	}
	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &asset.Variants); err != nil {
			return models.Asset{}, fmt.Errorf("decode variants for %s: %w", asset.ID, err)
		}
	}
	return asset, nil
}

func (r *PostgresRepository) CreateAsset(params CreateAssetParams) (models.Asset, error) {
	if !params.Kind.Valid() {
		return models.Asset{}, fmt.Errorf("invalid asset kind %q", params.Kind)
	}
	bucket := strings.TrimSpace(params.Bucket)
	objectKey := strings.TrimSpace(params.ObjectKey)
	if bucket == "" || objectKey == "" {
		return models.Asset{}, fmt.Errorf("bucket and object key are required")
	}

	now := time.Now().UTC()
	asset := models.Asset{
		ID:          uuid.NewString(),
		Kind:        params.Kind,
		Bucket:      bucket,
		ObjectKey:   objectKey,
		ContentType: strings.TrimSpace(params.ContentType),
		FileName:    strings.TrimSpace(params.FileName),
		FileSize:    params.FileSize,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	variants, err := json.Marshal(asset.Variants)
	if err != nil {
		return models.Asset{}, fmt.Errorf("encode variants: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO assets (`+assetColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		asset.ID, asset.Kind, asset.Bucket, asset.ObjectKey, asset.ContentType,
		asset.FileName, asset.FileSize, asset.Width, asset.Height,
		asset.DurationSeconds, asset.Status, asset.Progress, asset.Error,
		variants, asset.ResultKey, asset.CreatedAt, asset.UpdatedAt,
	)
	if err != nil {
		return models.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

func (r *PostgresRepository) GetAsset(id string) (models.Asset, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	asset, err := scanAsset(r.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err != nil {
		return models.Asset{}, false
	}
	return asset, true
}

func (r *PostgresRepository) UpdateAsset(id string, update AssetUpdate) (models.Asset, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Asset{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	asset, err := scanAsset(tx.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
		}
		return models.Asset{}, fmt.Errorf("load asset %s: %w", id, err)
	}

	updated := applyAssetUpdate(asset, update)
	updated.UpdatedAt = time.Now().UTC()
	variants, err := json.Marshal(updated.Variants)
	if err != nil {
		return models.Asset{}, fmt.Errorf("encode variants: %w", err)
	}

	_, err = tx.Exec(ctx, `
UPDATE assets SET
    content_type = $2, file_size = $3, width = $4, height = $5,
    duration_seconds = $6, status = $7, progress = $8, error = $9,
    variants = $10, result_key = $11, updated_at = $12
WHERE id = $1`,
		updated.ID, updated.ContentType, updated.FileSize, updated.Width,
		updated.Height, updated.DurationSeconds, updated.Status, updated.Progress,
		updated.Error, variants, updated.ResultKey, updated.UpdatedAt,
	)
	if err != nil {
		return models.Asset{}, fmt.Errorf("update asset %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Asset{}, fmt.Errorf("commit update %s: %w", id, err)
	}
	return updated, nil
}

func (r *PostgresRepository) ListAssetsByStatus(statuses ...models.ProcessingStatus) []models.Asset {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	query := `SELECT ` + assetColumns + ` FROM assets ORDER BY created_at`
	args := []any{}
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, string(status))
		}
		query = `SELECT ` + assetColumns + ` FROM assets WHERE status = ANY($1) ORDER BY created_at`
		args = append(args, values)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	assets := make([]models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil
		}
		assets = append(assets, asset)
	}
	return assets
}

func (r *PostgresRepository) DeleteAsset(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
	}
	return nil
}
