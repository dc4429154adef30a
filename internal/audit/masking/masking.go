// Package masking redacts payment references before they reach the audit log.
package masking

import "strings"

const maskToken = "****"

// MaskReference keeps the last four characters of a payment reference such
// as a check number or a provider charge id ("ch_****1234").
func MaskReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	prefix, remainder := "", trimmed
	if i := strings.LastIndex(trimmed, "_"); i >= 0 && i < len(trimmed)-1 {
		prefix, remainder = trimmed[:i+1], trimmed[i+1:]
	}
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskFields returns a copy of metadata with the named string fields masked.
func MaskFields(metadata map[string]any, fields ...string) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	for _, field := range fields {
		if s, ok := out[field].(string); ok {
			out[field] = MaskReference(s)
		}
	}
	return out
}
