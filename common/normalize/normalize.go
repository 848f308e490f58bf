// Package normalize defines canonical JSON for the staged-edit engine.
//
// Every "did this field actually change" decision in the system goes through
// this package: no-op detection, composite sub-diffing, and snapshot storage
// all compare values after Canonical. The rules:
//
//   - integers outside the 53-bit safe range serialize to decimal strings
//   - dates serialize to ISO-8601
//   - the empty string normalizes to null (clearing a text field and setting
//     it to "" are the same edit)
//   - non-finite numbers serialize to their string form ("NaN", "+Inf")
//   - object keys are emitted in sorted order
//
// StableStringify(a) == StableStringify(b) is therefore a structural-equality
// test independent of key insertion order.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxSafeInt is the largest integer a 64-bit float represents exactly.
// Larger integers become decimal strings so they survive JSON transport.
const maxSafeInt = int64(1) << 53

// Canonical converts v into the canonical value tree: nil, bool, string,
// float64, map[string]any with normalized values, or []any. Unknown Go types
// are round-tripped through encoding/json first.
func Canonical(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return val, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC().Format(time.RFC3339Nano), nil
	case float64:
		return canonicalFloat(val), nil
	case float32:
		return canonicalFloat(float64(val)), nil
	case int:
		return canonicalInt(int64(val)), nil
	case int32:
		return canonicalInt(int64(val)), nil
	case int64:
		return canonicalInt(val), nil
	case uint64:
		if val > uint64(maxSafeInt) {
			return strconv.FormatUint(val, 10), nil
		}
		return float64(val), nil
	case json.Number:
		return canonicalNumber(val)
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		parsed, err := decode(val)
		if err != nil {
			return nil, err
		}
		return Canonical(parsed)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			c, err := Canonical(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := Canonical(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("normalize %T: %w", v, err)
		}
		parsed, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return Canonical(parsed)
	}
}

func canonicalInt(v int64) any {
	if v > maxSafeInt || v < -maxSafeInt {
		return strconv.FormatInt(v, 10)
	}
	return float64(v)
}

func canonicalFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		// Keep the value visible instead of collapsing it to null.
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func canonicalNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return canonicalInt(i), nil
		}
		// Integer literal too large even for int64: keep the digits.
		return s, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", s, err)
	}
	return canonicalFloat(f), nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return v, nil
}

// StableStringify renders v in canonical form with sorted object keys.
func StableStringify(v any) (string, error) {
	c, err := Canonical(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := writeCanonical(&b, c); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(enc)
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return fmt.Errorf("non-canonical value of type %T", v)
	}
	return nil
}

// JSON returns the canonical serialization of v as raw JSON bytes, or nil
// when v normalizes to null.
func JSON(v any) (json.RawMessage, error) {
	s, err := StableStringify(v)
	if err != nil {
		return nil, err
	}
	if s == "null" {
		return nil, nil
	}
	return json.RawMessage(s), nil
}

// Equal reports whether a and b are structurally equal under canonical form.
func Equal(a, b any) (bool, error) {
	sa, err := StableStringify(a)
	if err != nil {
		return false, err
	}
	sb, err := StableStringify(b)
	if err != nil {
		return false, err
	}
	return sa == sb, nil
}

// EqualJSON is Equal over raw JSON values; empty input counts as null.
func EqualJSON(a, b json.RawMessage) (bool, error) {
	return Equal(a, b)
}
