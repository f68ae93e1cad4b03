package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// ErrExternalNotFound is returned when a resource holds no object under an id.
var ErrExternalNotFound = errors.New("external object not found")

// NextExternalID allocates the next identifier on a resource: R1, R2, ...
func (s *Store) NextExternalID(ctx context.Context, resource string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("next external id: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO external_sequences (resource, last_id) VALUES (?, 1)
		ON CONFLICT(resource) DO UPDATE SET last_id = last_id + 1
	`, resource); err != nil {
		return "", fmt.Errorf("next external id %s: %w", resource, err)
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT last_id FROM external_sequences WHERE resource = ?`, resource).Scan(&n); err != nil {
		return "", fmt.Errorf("next external id %s: %w", resource, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("next external id %s: commit: %w", resource, err)
	}
	return fmt.Sprintf("R%d", n), nil
}

// PutExternal inserts or replaces an object on a resource.
func (s *Store) PutExternal(ctx context.Context, resource, id string, attrs ir.IRObject) error {
	data, err := marshalAttrs(attrs)
	if err != nil {
		return fmt.Errorf("put external %s/%s: %w", resource, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO external_objects (resource, id, data) VALUES (?, ?, ?)
		ON CONFLICT(resource, id) DO UPDATE SET data = excluded.data
	`, resource, id, data)
	if err != nil {
		return fmt.Errorf("put external %s/%s: %w", resource, id, err)
	}
	return nil
}

// GetExternal returns the attributes of an object on a resource.
func (s *Store) GetExternal(ctx context.Context, resource, id string) (ir.IRObject, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM external_objects WHERE resource = ? AND id = ?
	`, resource, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get external %s/%s: %w", resource, id, ErrExternalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get external %s/%s: %w", resource, id, err)
	}
	return unmarshalAttrs(data)
}

// DeleteExternal removes an object from a resource.
func (s *Store) DeleteExternal(ctx context.Context, resource, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_objects WHERE resource = ? AND id = ?`, resource, id)
	if err != nil {
		return fmt.Errorf("delete external %s/%s: %w", resource, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete external %s/%s: %w", resource, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete external %s/%s: %w", resource, id, ErrExternalNotFound)
	}
	return nil
}
