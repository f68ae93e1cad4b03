package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/repo"
)

var _ repo.Repository = (*Store)(nil)

// Add inserts obj at version 1 and returns its id. An empty id is replaced
// with a UUIDv7. Unless opts.Raw is set the object is validated first.
func (s *Store) Add(ctx context.Context, obj *ir.Object, opts *repo.WriteOptions) (string, error) {
	if opts == nil || !opts.Raw {
		if err := repo.Validate(obj); err != nil {
			return "", fmt.Errorf("add: %w", err)
		}
	}

	id := obj.ID
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("add: generate id: %w", err)
		}
		id = u.String()
	}

	data, err := marshalAttrs(obj.Attrs)
	if err != nil {
		return "", fmt.Errorf("add %s/%s: %w: %v", obj.Type, id, repo.ErrSchemaInvalid, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (type, id, version, data)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(type, id) DO NOTHING
	`, obj.Type, id, data)
	if err != nil {
		return "", fmt.Errorf("add %s/%s: %w", obj.Type, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("add %s/%s: %w", obj.Type, id, err)
	}
	if n == 0 {
		return "", &repo.ObjectError{Op: "add", Ref: ir.Ref{Type: obj.Type, ID: id}, Err: repo.ErrAlreadyExists}
	}
	return id, nil
}

// Modify applies mods to the stored attributes and increments the version in
// one transaction.
func (s *Store) Modify(ctx context.Context, typ, id string, mods []ir.ItemDelta, opts *repo.WriteOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("modify %s/%s: begin tx: %w", typ, id, err)
	}
	defer tx.Rollback() // No-op if committed

	row := tx.QueryRowContext(ctx, `
		SELECT type, id, version, data FROM objects WHERE type = ? AND id = ?
	`, typ, id)
	current, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return repo.NotFound("modify", typ, id)
	}
	if err != nil {
		return fmt.Errorf("modify %s/%s: %w", typ, id, err)
	}

	attrs, err := ir.ApplyItems(current.Attrs, mods)
	if err != nil {
		return &repo.ObjectError{Op: "modify", Ref: current.Ref(), Err: fmt.Errorf("%w: %v", repo.ErrSchemaInvalid, err)}
	}
	next := current.Clone()
	next.Attrs = attrs
	if opts == nil || !opts.Raw {
		if err := repo.Validate(next); err != nil {
			return fmt.Errorf("modify: %w", err)
		}
	}

	data, err := marshalAttrs(attrs)
	if err != nil {
		return &repo.ObjectError{Op: "modify", Ref: current.Ref(), Err: fmt.Errorf("%w: %v", repo.ErrSchemaInvalid, err)}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE objects SET data = ?, version = version + 1
		WHERE type = ? AND id = ? AND version = ?
	`, data, typ, id, current.Version); err != nil {
		return fmt.Errorf("modify %s/%s: %w", typ, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("modify %s/%s: commit: %w", typ, id, err)
	}
	return nil
}

// Delete removes a stored object.
func (s *Store) Delete(ctx context.Context, typ, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE type = ? AND id = ?`, typ, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", typ, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", typ, id, err)
	}
	if n == 0 {
		return repo.NotFound("delete", typ, id)
	}
	return nil
}
