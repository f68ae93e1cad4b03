// Package repo defines the authoritative store contract consumed by the
// engine and an in-memory implementation of it.
//
// Every implementation honors the same rules: returned objects are owned by
// the caller, versions start at 1 and increase by one per modify, searches
// return objects ordered by id, and failures wrap one of the sentinel errors
// below.
package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
)

// Sentinel errors. Implementations wrap them with %w.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrSchemaInvalid = errors.New("object schema invalid")
)

// GetOptions alter how reads are performed. The zero value and nil are
// equivalent.
type GetOptions struct {
	// NoFetch reads the stored record only and never consults the resource a
	// shadow mirrors.
	NoFetch bool
	// AllowNotFound makes Get return (nil, nil) for a missing object.
	AllowNotFound bool
	// Raw skips attribute post-processing of the stored record.
	Raw bool
}

// IsZero reports whether the options request default behavior.
func (o *GetOptions) IsZero() bool {
	return o == nil || *o == GetOptions{}
}

// WriteOptions alter how writes are performed.
type WriteOptions struct {
	// Raw bypasses schema validation. Used to retire records that may no
	// longer validate.
	Raw bool
}

// Repository is the authoritative store.
type Repository interface {
	Get(ctx context.Context, typ, id string, opts *GetOptions) (*ir.Object, error)
	GetVersion(ctx context.Context, typ, id string) (int64, error)
	Search(ctx context.Context, q queryir.Select, opts *GetOptions) ([]*ir.Object, error)
	Add(ctx context.Context, obj *ir.Object, opts *WriteOptions) (string, error)
	Modify(ctx context.Context, typ, id string, mods []ir.ItemDelta, opts *WriteOptions) error
	Delete(ctx context.Context, typ, id string) error
}

// ObjectError attaches the object reference to a repository failure.
type ObjectError struct {
	Op  string
	Ref ir.Ref
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// NotFound builds the error returned for a missing object.
func NotFound(op, typ, id string) error {
	return &ObjectError{Op: op, Ref: ir.Ref{Type: typ, ID: id}, Err: ErrNotFound}
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Validate checks the minimal schema every stored object must satisfy.
// Shadows must name the projection role and object class they mirror.
func Validate(obj *ir.Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrSchemaInvalid)
	}
	if obj.Type == "" {
		return fmt.Errorf("%w: missing type", ErrSchemaInvalid)
	}
	if obj.Type != ir.TypeShadow {
		return nil
	}
	for _, attr := range []string{ir.AttrResource, ir.AttrKind, ir.AttrIntent, ir.AttrObjectClass} {
		v, ok := obj.Attrs[attr]
		if !ok {
			return fmt.Errorf("%w: shadow %s missing %s", ErrSchemaInvalid, obj.ID, attr)
		}
		if _, isString := v.(ir.IRString); !isString {
			return fmt.Errorf("%w: shadow %s attribute %s must be a string", ErrSchemaInvalid, obj.ID, attr)
		}
	}
	if dead, ok := obj.Attrs[ir.AttrDead]; ok {
		if _, isBool := dead.(ir.IRBool); !isBool {
			return fmt.Errorf("%w: shadow %s attribute %s must be a boolean", ErrSchemaInvalid, obj.ID, ir.AttrDead)
		}
	}
	return nil
}
