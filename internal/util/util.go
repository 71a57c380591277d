// Package util holds small helpers shared across packages.
package util

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var sensitiveKeyFragments = []string{"api-key", "apikey", "api_key", "token", "secret"}

// WritablePath returns the cleaned WRITABLE_PATH environment variable when it
// is set. Both uppercase and lowercase variants are accepted.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value, ok := os.LookupEnv(key); ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return filepath.Clean(trimmed)
			}
		}
	}
	return ""
}

// HideAPIKey obscures a credential for logging, showing only the first and
// last few characters.
func HideAPIKey(apiKey string) string {
	switch {
	case len(apiKey) > 8:
		return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
	case len(apiKey) > 4:
		return apiKey[:2] + "..." + apiKey[len(apiKey)-2:]
	case len(apiKey) > 2:
		return apiKey[:1] + "..." + apiKey[len(apiKey)-1:]
	default:
		return apiKey
	}
}

// MaskSensitiveQuery masks credential-bearing query parameters within the raw
// query string before it reaches a log line.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart := part
		valuePart := ""
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart = part[:idx]
			valuePart = part[idx+1:]
		}
		decodedKey, errKey := url.QueryUnescape(keyPart)
		if errKey != nil {
			decodedKey = keyPart
		}
		if !isSensitiveQueryParam(decodedKey) {
			continue
		}
		decodedValue, errValue := url.QueryUnescape(valuePart)
		if errValue != nil {
			decodedValue = valuePart
		}
		masked := HideAPIKey(strings.TrimSpace(decodedValue))
		parts[i] = keyPart + "=" + url.QueryEscape(masked)
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func isSensitiveQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	key = strings.TrimSuffix(key, "[]")
	if key == "key" {
		return true
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
