package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"inbox-hub/internal/model"
)

func (s *Storage) CreateTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tenants (id, name, bot_enabled, concurrency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Name, t.BotEnabled, t.Concurrency)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// DeleteTenant removes the tenant together with its conversations and messages.
func (s *Storage) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE tenant_id = $1`,
		`DELETE FROM conversations WHERE tenant_id = $1`,
		`DELETE FROM tenants WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Storage) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	var t model.Tenant
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, bot_enabled, concurrency, created_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.BotEnabled, &t.Concurrency, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *Storage) TenantExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("tenant exists: %w", err)
	}
	return exists, nil
}

func (s *Storage) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, bot_enabled, concurrency, created_at
		FROM tenants ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.BotEnabled, &t.Concurrency, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Storage) UpdateTenantConcurrency(ctx context.Context, tenantID uuid.UUID, workers int) error {
	return s.updateTenant(ctx, `UPDATE tenants SET concurrency = $1 WHERE id = $2`, workers, tenantID)
}

func (s *Storage) SetTenantBotEnabled(ctx context.Context, tenantID uuid.UUID, enabled bool) error {
	return s.updateTenant(ctx, `UPDATE tenants SET bot_enabled = $1 WHERE id = $2`, enabled, tenantID)
}

// TenantBotEnabled reports the per-tenant bot switch. Unknown tenants read as disabled.
func (s *Storage) TenantBotEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	t, err := s.GetTenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.BotEnabled, nil
}

func (s *Storage) updateTenant(ctx context.Context, query string, value any, tenantID uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, query, value, tenantID)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
