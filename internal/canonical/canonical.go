// Package canonical produces the deterministic byte form of a submission
// payload used as the signature verification message. Two structurally equal
// payloads encode to identical bytes regardless of map insertion order.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/veritasnet/trustcore/internal/errs"
)

// SignatureField is stripped from the payload envelope before encoding:
// the signature never signs itself.
const SignatureField = "signature"

// Encode serializes a payload into canonical JSON: object keys sorted
// lexicographically at every depth, sequences kept in order, numbers in a
// fixed platform-independent form. Values outside the supported
// scalar/sequence/mapping set fail closed with errs.ErrMalformedSubmission.
func Encode(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeMap(&buf, payload, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeMap(buf *bytes.Buffer, m map[string]any, topLevel bool) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if topLevel && k == SignatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, val)
	case json.Number:
		// Pass through verbatim: lossless for arbitrary precision input.
		if _, err := strconv.ParseFloat(val.String(), 64); err != nil {
			return fmt.Errorf("%w: bad number %q", errs.ErrMalformedSubmission, val.String())
		}
		buf.WriteString(val.String())
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%w: non-finite number", errs.ErrMalformedSubmission)
		}
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			// Integral floats encode without exponent or fraction so the same
			// value signed from any producer matches byte for byte.
			buf.WriteString(strconv.FormatInt(int64(val), 10))
			return nil
		}
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, e); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		return encodeMap(buf, val, false)
	default:
		return fmt.Errorf("%w: unsupported type %T", errs.ErrMalformedSubmission, v)
	}
	return nil
}

// writeString emits a JSON-escaped string. json.Marshal never fails for a
// string and produces a stable escaping.
func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
