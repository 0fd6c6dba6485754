package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type txBeginner interface {
	queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrDatasetNotFound is returned when no imported dataset matches the name.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset describes one imported copy of a patient file.
type Dataset struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Header     []string  `json:"header"`
	RowCount   int       `json:"row_count"`
	ImportedAt time.Time `json:"imported_at"`
}

// PGSource loads the most recent import of a named dataset from PostgreSQL.
// Cells are stored as raw text so the table goes through the same parsing
// path as a file load.
type PGSource struct {
	db      queryable
	name    string
	options LoadOptions
}

// NewPGSource creates a source reading dataset name through db.
func NewPGSource(db queryable, name string, opts LoadOptions) *PGSource {
	return &PGSource{db: db, name: name, options: opts}
}

func (s *PGSource) Load(ctx context.Context) (*Table, error) {
	ds, err := latestDataset(ctx, s.db, s.name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT cells FROM patient_record WHERE dataset_id = $1 ORDER BY row_num`, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("query records of %s: %w", ds.Name, err)
	}
	defer rows.Close()

	cells := make([][]string, 0, ds.RowCount)
	for rows.Next() {
		var row []string
		if err := rows.Scan(&row); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		cells = append(cells, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	t, err := BuildTable(ds.Header, cells, s.options)
	if err != nil {
		return nil, fmt.Errorf("build table from dataset %s: %w", ds.Name, err)
	}
	return t, nil
}

func latestDataset(ctx context.Context, db queryable, name string) (*Dataset, error) {
	var ds Dataset
	err := db.QueryRow(ctx, `
		SELECT id, name, header, row_count, imported_at
		FROM patient_dataset WHERE name = $1
		ORDER BY imported_at DESC LIMIT 1`, name).
		Scan(&ds.ID, &ds.Name, &ds.Header, &ds.RowCount, &ds.ImportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("query dataset %s: %w", name, err)
	}
	return &ds, nil
}

// ImportTable copies every record of t into PostgreSQL as a new dataset
// version under name. The raw cell text is stored, not the parsed values.
func ImportTable(ctx context.Context, db txBeginner, name string, t *Table) (*Dataset, error) {
	ds := &Dataset{
		ID:       uuid.New(),
		Name:     name,
		Header:   t.Header(),
		RowCount: t.Len(),
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO patient_dataset (id, name, header, row_count)
		VALUES ($1, $2, $3, $4) RETURNING imported_at`,
		ds.ID, ds.Name, ds.Header, ds.RowCount).Scan(&ds.ImportedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"patient_record"},
		[]string{"dataset_id", "row_num", "cells"},
		pgx.CopyFromSlice(t.Len(), func(i int) ([]interface{}, error) {
			return []interface{}{ds.ID, i, t.records[i].cells}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("copy records: %w", err)
	}
	if int(n) != t.Len() {
		return nil, fmt.Errorf("copy records: wrote %d of %d", n, t.Len())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return ds, nil
}

// ListDatasets returns every imported dataset, newest first.
func ListDatasets(ctx context.Context, db queryable) ([]*Dataset, error) {
	rows, err := db.Query(ctx, `
		SELECT id, name, header, row_count, imported_at
		FROM patient_dataset ORDER BY imported_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var items []*Dataset
	for rows.Next() {
		var ds Dataset
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Header, &ds.RowCount, &ds.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		items = append(items, &ds)
	}
	return items, rows.Err()
}
