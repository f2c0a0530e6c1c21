package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartengine/pkg/database"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

const (
	readSnapshotSQL  = `SELECT payload FROM cart_snapshots WHERE key = $1`
	writeSnapshotSQL = `INSERT INTO cart_snapshots (key, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`
)

// Storage implements repository.Storage on the cart_snapshots table.
type Storage struct {
	db database.DBTX
}

// NewStorage creates a PostgreSQL-backed snapshot storage.
func NewStorage(db database.DBTX) *Storage {
	return &Storage{db: db}
}

// Read retrieves the snapshot stored under key.
func (s *Storage) Read(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, "postgresql", "ReadSnapshot", readSnapshotSQL)
	defer func() { end(err) }()

	err = s.db.QueryRow(ctx, readSnapshotSQL, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("cart snapshot", key)
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return data, nil
}

// Write upserts the snapshot under key.
func (s *Storage) Write(ctx context.Context, key string, data []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, "postgresql", "WriteSnapshot", writeSnapshotSQL)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, writeSnapshotSQL, key, data); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}
