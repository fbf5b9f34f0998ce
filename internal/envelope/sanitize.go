package envelope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/seal"
)

// RedactedMarker replaces sensitive values when no sealer is configured or sealing fails.
const RedactedMarker = "[REDACTED]"

var strippedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-api-key":     {},
}

// sensitiveFields are compared after lowercasing and removing "_" and "-".
var sensitiveFields = map[string]struct{}{
	"password":   {},
	"token":      {},
	"secret":     {},
	"apikey":     {},
	"creditcard": {},
	"otp":        {},
	"backupcode": {},
	"mfa":        {},
	"pin":        {},
	"ssn":        {},
	"nationalid": {},
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// IsSensitiveField reports whether a body or query field must never be stored in clear.
func IsSensitiveField(name string) bool {
	_, ok := sensitiveFields[normalizeKey(name)]
	return ok
}

// SanitizeHeaders lowercases header names and drops credentials.
func SanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if _, drop := strippedHeaders[lk]; drop {
			continue
		}
		out[lk] = v
	}
	return out
}

// sanitizer seals sensitive values, counting how many it touched.
type sanitizer struct {
	sealer  seal.Sealer
	touched int
}

func (s *sanitizer) protect(v any) any {
	if v == nil {
		return nil
	}
	s.touched++
	if s.sealer == nil {
		return RedactedMarker
	}
	// The JSON form keeps the value's type across a seal round trip.
	plain, err := json.Marshal(v)
	if err != nil {
		return RedactedMarker
	}
	token, err := s.sealer.Seal(string(plain))
	if err != nil {
		return RedactedMarker
	}
	return token
}

func (s *sanitizer) body(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if IsSensitiveField(k) {
			out[k] = s.protect(v)
			continue
		}
		out[k] = s.value(v)
	}
	return out
}

func (s *sanitizer) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return s.body(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.value(item)
		}
		return out
	default:
		return v
	}
}

func (s *sanitizer) query(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if IsSensitiveField(k) {
			out[k], _ = s.protect(v).(string)
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizeBody returns a copy of body with sensitive fields sealed, or redacted
// when sealer is nil. Nested objects and arrays are walked.
func SanitizeBody(body map[string]any, sealer seal.Sealer) map[string]any {
	s := &sanitizer{sealer: sealer}
	return s.body(body)
}

// UnsealBody reverses SanitizeBody for every sealed string it finds. Strings
// that only look like tokens are returned unchanged, as is the whole body when
// sealer is nil.
func UnsealBody(body map[string]any, sealer seal.Sealer) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		u, err := unsealValue(v, sealer)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = u
	}
	return out, nil
}

func unsealValue(v any, sealer seal.Sealer) (any, error) {
	switch t := v.(type) {
	case string:
		if sealer == nil || !seal.IsSealed(t) {
			return t, nil
		}
		plain, err := sealer.Unseal(t)
		if errors.Is(err, seal.ErrInvalidToken) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal([]byte(plain), &out); err != nil {
			return plain, nil
		}
		return out, nil
	case map[string]any:
		return UnsealBody(t, sealer)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			u, err := unsealValue(item, sealer)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return v, nil
	}
}
