package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/coviddash/dashboard/internal/config"
	"github.com/coviddash/dashboard/internal/domain/patient"
	"github.com/coviddash/dashboard/internal/platform/db"
)

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectTimeout: 10 * time.Second,
	})
}

// newSource picks the record source for cfg. pool is only used for the
// postgres source and may be nil otherwise.
func newSource(cfg *config.Config, pool *pgxpool.Pool) patient.Source {
	if cfg.UsesDatabase() {
		return patient.NewPGSource(pool, cfg.DatasetName, cfg.LoadOptions())
	}
	return patient.NewFileSource(cfg.DataFile, cfg.LoadOptions())
}

// loadTable loads the configured dataset once. Failure here is fatal for
// every command: there is nothing to show without a table.
func loadTable(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*patient.Table, error) {
	src := newSource(cfg, pool)
	table, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s data: %w", cfg.DataSource, err)
	}

	logger.Info().
		Str("source", cfg.DataSource).
		Int("records", table.Len()).
		Int("columns", len(table.Columns())).
		Int("numeric_columns", len(table.NumericColumns())).
		Msg("loaded patient data")
	return table, nil
}
