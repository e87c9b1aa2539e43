package utils

import "regexp"

// Patterns for credential material that must never reach logs or persisted
// error messages: bearer headers, session token fields in JSON payloads, and
// long hex/base64 secrets following a token-ish key.
var scrubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-_.=+/]{8,}`),
	regexp.MustCompile(`(?i)("(?:session_?token|access_?token|authorisation_?challenge|api_?key|token)"\s*:\s*")[^"]+(")`),
	regexp.MustCompile(`(?i)((?:session_?token|api_?key|secret)=)[A-Za-z0-9\-_.=+/]{8,}`),
}

// ScrubSecrets masks credential material in a message before it is logged or
// stored on a failed job.
func ScrubSecrets(msg string) string {
	out := msg
	out = scrubPatterns[0].ReplaceAllString(out, "${1}[REDACTED]")
	out = scrubPatterns[1].ReplaceAllString(out, "${1}[REDACTED]${2}")
	out = scrubPatterns[2].ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
