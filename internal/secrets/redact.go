// Package secrets handles sensitive argument fields: redaction before
// durable storage, encrypted side-storage with TTL, and re-merge at
// execution time.
//
// The sensitive field set below is the authoritative boundary. Matching is
// a case-insensitive substring test on map keys, so "NewPassword",
// "user_api_key" and "Authorization" all match. Arrays of sensitive
// scalars are not supported: the walk only recognizes sensitivity through
// the key of a map entry, so a bare []string of passwords passes through
// unredacted.
package secrets

import "strings"

// Redacted replaces sensitive values in durable records.
const Redacted = "[REDACTED]"

// sensitiveFieldNames are matched as case-insensitive substrings of map keys.
var sensitiveFieldNames = []string{
	"password",
	"new_password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"private_key",
	"credentials",
	"auth",
	"authorization",
	"_temp_password",
}

// IsSensitiveKey reports whether a map key names a sensitive field.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// Redact returns a copy of data with every sensitive leaf replaced by the
// Redacted sentinel. Nested maps and maps inside arrays are walked;
// scalars and non-map array elements pass through unchanged.
func Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		switch {
		case IsSensitiveKey(key):
			out[key] = Redacted
		default:
			out[key] = redactValue(value)
		}
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Redact(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				items[i] = Redact(m)
			} else {
				items[i] = item
			}
		}
		return items
	default:
		return value
	}
}

// HasSensitive reports whether any sensitive field appears anywhere in the
// tree.
func HasSensitive(data map[string]any) bool {
	for key, value := range data {
		if IsSensitiveKey(key) {
			return true
		}
		switch v := value.(type) {
		case map[string]any:
			if HasSensitive(v) {
				return true
			}
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok && HasSensitive(m) {
					return true
				}
			}
		}
	}
	return false
}

// Extract splits data into a redacted copy and a tree holding only the
// original sensitive leaves, preserving the path hierarchy. It walks the
// same shapes as Redact and HasSensitive, including maps inside arrays;
// array positions without secrets are held as nil so Merge can realign.
// Merging the two trees reconstructs the input exactly.
func Extract(data map[string]any) (clean map[string]any, extracted map[string]any) {
	if data == nil {
		return nil, nil
	}
	clean = make(map[string]any, len(data))
	extracted = make(map[string]any)

	for key, value := range data {
		if IsSensitiveKey(key) {
			clean[key] = Redacted
			extracted[key] = value
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			nestedClean, nestedSecrets := Extract(v)
			clean[key] = nestedClean
			if len(nestedSecrets) > 0 {
				extracted[key] = nestedSecrets
			}
		case []any:
			items := make([]any, len(v))
			secrets := make([]any, len(v))
			found := false
			for i, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					items[i] = item
					continue
				}
				itemClean, itemSecrets := Extract(m)
				items[i] = itemClean
				if len(itemSecrets) > 0 {
					secrets[i] = itemSecrets
					found = true
				}
			}
			clean[key] = items
			if found {
				extracted[key] = secrets
			}
		default:
			clean[key] = value
		}
	}
	return clean, extracted
}

// Merge overwrites values in target with the originals from extracted,
// recursing into nested maps and position-aligned arrays. It is the
// inverse of Extract: every path in extracted replaces the sentinel at
// the same path in target.
func Merge(target map[string]any, extracted map[string]any) {
	for key, value := range extracted {
		switch v := value.(type) {
		case map[string]any:
			if dst, ok := target[key].(map[string]any); ok {
				Merge(dst, v)
				continue
			}
		case []any:
			if dst, ok := target[key].([]any); ok && len(dst) == len(v) {
				for i, item := range v {
					sub, ok := item.(map[string]any)
					if !ok {
						continue
					}
					if dstItem, ok := dst[i].(map[string]any); ok {
						Merge(dstItem, sub)
					} else {
						dst[i] = sub
					}
				}
				continue
			}
		}
		target[key] = value
	}
}
