package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// marshalAttrs converts attributes to canonical JSON TEXT for storage.
// Null values are dropped first: canonical JSON has no null, and a null
// attribute is equivalent to an absent one.
func marshalAttrs(attrs ir.IRObject) (string, error) {
	data, err := ir.MarshalCanonical(dropNulls(attrs))
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

func dropNulls(obj ir.IRObject) ir.IRObject {
	out := make(ir.IRObject, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil, ir.IRNull:
			continue
		case ir.IRObject:
			out[k] = dropNulls(val)
		default:
			out[k] = v
		}
	}
	return out
}

// unmarshalAttrs parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which handles large integers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalAttrs(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	if obj == nil {
		obj = ir.IRObject{}
	}
	return obj, nil
}
