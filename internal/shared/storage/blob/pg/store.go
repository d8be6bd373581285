package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"civicease-backend/internal/shared/storage/blob"
)

// blobID is the fixed row id; the library is one blob, so the table holds one row.
const blobID = 1

// Store implements blob.Store using a single-row Postgres table.
type Store struct {
	DB *sql.DB
}

// New wraps an open database handle as a blob store.
func New(db *sql.DB) blob.Store {
	return &Store{DB: db}
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Read fetches the blob row.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT data FROM library_blob WHERE id = $1`, blobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blob.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("select blob: %w", err)
	}
	return data, nil
}

// Write upserts the blob row.
func (s *Store) Write(ctx context.Context, data []byte) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO library_blob (id, data, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		blobID, data)
	if err != nil {
		return fmt.Errorf("upsert blob: %w", err)
	}
	return nil
}
