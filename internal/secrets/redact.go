package secrets

import "go.uber.org/zap"

// placeholder is what a redacted value is replaced with in any
// artifact, log line, or error message reachable from user-facing output.
const placeholder = "***"

// Redact replaces every value in a managed-params map with a fixed
// placeholder, for logging or artifact capture paths that must never see
// live secret material.
func Redact(params ManagedParams) map[string]string {
	out := make(map[string]string, len(params))
	for name := range params {
		out[name] = placeholder
	}
	return out
}

// RedactField returns a zap.Field that logs only the parameter names
// present, never their values — the logging-safe counterpart of Redact
// for call sites that want to record "secrets were injected" without
// risking a value leak via structured fields.
func RedactField(key string, params ManagedParams) zap.Field {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	return zap.Strings(key, names)
}
