// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

const uniqueViolation = "23505"

type Storage struct {
	DB *sql.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

func (s *Storage) Close() error {
	return s.DB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// EnsurePartition creates a tenant partition if not exists
func (s *Storage) EnsurePartition(ctx context.Context, tenantID uuid.UUID) error {
	partitionName := pq.QuoteIdentifier(fmt.Sprintf("messages_%s", tenantID.String()))
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s PARTITION OF messages
		FOR VALUES IN ('%s')`, partitionName, tenantID.String())

	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	return nil
}

// DropPartition detaches and drops the tenant's partition.
func (s *Storage) DropPartition(ctx context.Context, tenantID uuid.UUID) error {
	partitionName := pq.QuoteIdentifier(fmt.Sprintf("messages_%s", tenantID.String()))
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, partitionName)); err != nil {
		return fmt.Errorf("failed to drop partition: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
