package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"

	"github.com/estmeter/estmeter/pkg/types"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationFS embed.FS

// SQLiteProvider implements the Database interface on a local sqlite file.
// It is the default provider: a single writer with modest volume is exactly
// what sqlite is good at, and it keeps the binary self-contained.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

var _ Database = (*SQLiteProvider)(nil)

// configuredSQLite sets up the sqlite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "estmeter.db", "Path of the sqlite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	return nil
}

// Init opens the database file and applies any pending migrations.
// This must be called before using the provider methods.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database %s: %w", s.path, err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, sqliteMigrationFS, "migrations/sqlite")

	s.db = db
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetLatestRecord returns the newest record of a series.
func (s *SQLiteProvider) GetLatestRecord(ctx context.Context, statisticID string) (*types.CumulativeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT start, sum FROM records WHERE statistic_id = ? ORDER BY start DESC LIMIT 1`,
		statisticID)

	var start int64
	var sum float64
	if err := row.Scan(&start, &sum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest record for %s: %w", statisticID, err)
	}
	return &types.CumulativeRecord{
		StatisticID: statisticID,
		Start:       time.Unix(start, 0).UTC(),
		Sum:         sum,
	}, nil
}

// GetRecords returns the records of a series within [start, end].
func (s *SQLiteProvider) GetRecords(ctx context.Context, statisticID string, start, end time.Time) ([]types.CumulativeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start, sum FROM records WHERE statistic_id = ? AND start >= ? AND start <= ? ORDER BY start ASC`,
		statisticID, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", statisticID, err)
	}
	defer rows.Close()

	var out []types.CumulativeRecord
	for rows.Next() {
		var startSec int64
		var sum float64
		if err := rows.Scan(&startSec, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan record for %s: %w", statisticID, err)
		}
		out = append(out, types.CumulativeRecord{
			StatisticID: statisticID,
			Start:       time.Unix(startSec, 0).UTC(),
			Sum:         sum,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records for %s: %w", statisticID, err)
	}
	return out, nil
}

// GetSeries returns the metadata of one series.
func (s *SQLiteProvider) GetSeries(ctx context.Context, statisticID string) (*types.SeriesMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT statistic_id, name, source, unit, has_sum FROM series WHERE statistic_id = ?`,
		statisticID)

	var meta types.SeriesMetadata
	if err := row.Scan(&meta.StatisticID, &meta.Name, &meta.Source, &meta.Unit, &meta.HasSum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query series %s: %w", statisticID, err)
	}
	return &meta, nil
}

// AppendRecords upserts the series metadata and inserts the batch in a
// single transaction. Replayed starts are dropped by the primary key.
func (s *SQLiteProvider) AppendRecords(ctx context.Context, meta types.SeriesMetadata, records []types.CumulativeRecord) error {
	if meta.StatisticID == "" {
		return fmt.Errorf("metadata missing statistic ID")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO series (statistic_id, name, source, unit, has_sum) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (statistic_id) DO UPDATE SET
		   name = excluded.name, source = excluded.source, unit = excluded.unit, has_sum = excluded.has_sum`,
		meta.StatisticID, meta.Name, meta.Source, meta.Unit, meta.HasSum)
	if err != nil {
		return fmt.Errorf("failed to upsert series %s: %w", meta.StatisticID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (statistic_id, start, sum) VALUES (?, ?, ?) ON CONFLICT (statistic_id, start) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, meta.StatisticID, rec.Start.Unix(), rec.Sum); err != nil {
			return fmt.Errorf("failed to insert record for %s at %s: %w", meta.StatisticID, rec.Start, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records for %s: %w", meta.StatisticID, err)
	}
	return nil
}

// ListSeries returns the metadata of every stored series.
func (s *SQLiteProvider) ListSeries(ctx context.Context) ([]types.SeriesMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT statistic_id, name, source, unit, has_sum FROM series ORDER BY statistic_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var out []types.SeriesMetadata
	for rows.Next() {
		var meta types.SeriesMetadata
		if err := rows.Scan(&meta.StatisticID, &meta.Name, &meta.Source, &meta.Unit, &meta.HasSum); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate series: %w", err)
	}
	return out, nil
}
