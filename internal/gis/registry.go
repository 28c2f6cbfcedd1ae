package gis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"hydrotwin/internal/model"
)

// Registry supplies the consumer reference data. Implementations are read-only.
type Registry interface {
	Consumers(ctx context.Context) ([]model.Consumer, error)
}

type FileRegistry struct {
	path string
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) Consumers(ctx context.Context) ([]model.Consumer, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("consumer registry %s: %w", r.path, model.ErrMissingInput)
		}
		return nil, err
	}
	var consumers []model.Consumer
	if err := json.Unmarshal(data, &consumers); err != nil {
		return nil, fmt.Errorf("decode consumer registry: %w", err)
	}
	return consumers, nil
}

type PostgresRegistry struct {
	db *sqlx.DB
}

func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect consumer registry: %w", err)
	}
	return &PostgresRegistry{db: db}, nil
}

func (r *PostgresRegistry) Consumers(ctx context.Context) ([]model.Consumer, error) {
	const query = `
		SELECT
			id,
			name,
			locality,
			lat,
			lon,
			avg_daily_usage_liters,
			phone,
			COALESCE(connection_type, '') AS connection_type,
			COALESCE(meter_id, '') AS meter_id
		FROM consumers
		ORDER BY id`

	var consumers []model.Consumer
	if err := r.db.SelectContext(ctx, &consumers, query); err != nil {
		return nil, fmt.Errorf("failed to query consumers: %w", err)
	}
	return consumers, nil
}

func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}

// OpenRegistry picks the implementation for driver ("file" or "postgres").
func OpenRegistry(ctx context.Context, driver, dsn, path string) (Registry, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		return NewFileRegistry(path), nil
	case "postgres", "postgresql":
		return NewPostgresRegistry(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported registry driver: %s", driver)
}

// UnavailableRegistry stands in for a registry that could not be opened at
// startup. Every lookup reports missing input so callers degrade per request.
type UnavailableRegistry struct {
	Err error
}

func (u UnavailableRegistry) Consumers(context.Context) ([]model.Consumer, error) {
	if u.Err == nil {
		return nil, fmt.Errorf("consumer registry unavailable: %w", model.ErrMissingInput)
	}
	return nil, fmt.Errorf("consumer registry unavailable: %v: %w", u.Err, model.ErrMissingInput)
}

// StaticRegistry serves a fixed slice; used by the CLI and tests.
type StaticRegistry []model.Consumer

func (s StaticRegistry) Consumers(context.Context) ([]model.Consumer, error) {
	return []model.Consumer(s), nil
}
