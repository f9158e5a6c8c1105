package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonicalize renders v as JSON with object keys sorted lexicographically at
// every depth and arrays kept positional. Two values that differ only in map
// or struct field order produce byte-identical output, so keys built from it
// collide for semantically identical queries.
func Canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}

	// Round-trip through a generic tree so struct field order and map key
	// order both normalize. UseNumber keeps numbers verbatim instead of
	// reformatting them through float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", fmt.Errorf("failed to decode serialized value: %w", err)
	}

	var b strings.Builder
	b.Grow(len(raw))
	if err := writeCanonical(&b, tree); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case string:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to serialize string: %w", err)
		}
		b.Write(raw)
	case []any:
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			raw, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("failed to serialize key %q: %w", k, err)
			}
			b.Write(raw)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value of type %T", v)
	}
	return nil
}
