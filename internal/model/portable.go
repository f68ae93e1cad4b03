package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// ErrUnsupportedVersion is returned for portable data of an unknown format.
var ErrUnsupportedVersion = errors.New("unsupported portable version")

type portable struct {
	Version int      `json:"version"`
	Engine  string   `json:"engine,omitempty"`
	Context *Context `json:"context"`
}

// ToPortable serializes a context into its flat portable form.
func ToPortable(c *Context) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("to portable: nil context")
	}
	data, err := json.Marshal(portable{
		Version: ir.PortableVersion,
		Engine:  ir.EngineVersion,
		Context: c,
	})
	if err != nil {
		return nil, fmt.Errorf("to portable %s: %w", c.ID, err)
	}
	return data, nil
}

// FromPortable reconstructs a context from ToPortable output. The result is
// validated; unknown fields and versions are rejected.
func FromPortable(data []byte) (*Context, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p portable
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("from portable: %w", err)
	}
	if p.Version != ir.PortableVersion {
		return nil, fmt.Errorf("from portable: %w: %d", ErrUnsupportedVersion, p.Version)
	}
	if p.Context == nil {
		return nil, fmt.Errorf("from portable: no context")
	}
	if err := p.Context.Validate(); err != nil {
		return nil, fmt.Errorf("from portable: %w", err)
	}
	return p.Context, nil
}
