package observability

import (
	"regexp"
	"strings"
)

// Redactor masks provider credentials in log output.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
	name        string
}

var sensitiveKeys = []string{"api_key", "apikey", "token", "secret", "password", "authorization", "credential"}

// NewRedactor creates a redactor with patterns for every supported provider.
func NewRedactor() *Redactor {
	r := &Redactor{}
	// More specific prefixes first; the generic OpenAI pattern would eat them.
	r.AddPattern(`sk-ant-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_ANTHROPIC_KEY]", "anthropic_key")
	r.AddPattern(`sk-proj-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_OPENAI_PROJECT_KEY]", "openai_project_key")
	r.AddPattern(`sk-[a-zA-Z0-9]{20,}`, "[REDACTED_OPENAI_KEY]", "openai_key")
	r.AddPattern(`AIza[a-zA-Z0-9\-_]{35}`, "[REDACTED_GOOGLE_KEY]", "google_key")
	r.AddPattern(`hvs\.[a-zA-Z0-9_\-]{20,}`, "[REDACTED_VAULT_TOKEN]", "vault_token")
	r.AddPattern(`([?&]key=)[a-zA-Z0-9\-_]+`, "${1}[REDACTED]", "query_key")
	r.AddPattern(`Bearer\s+[a-zA-Z0-9\-_\.]+`, "Bearer [REDACTED]", "bearer_token")
	r.AddPattern(`(?i)(x-api-key|x-goog-api-key|authorization):\s*[^\s]+`, "$1: [REDACTED]", "auth_header")
	return r
}

// AddPattern adds a custom redaction pattern. Invalid patterns are ignored.
func (r *Redactor) AddPattern(pattern, replacement, name string) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.patterns = append(r.patterns, &redactPattern{regex: regex, replacement: replacement, name: name})
}

// Redact applies all patterns to input.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, p := range r.patterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

// SensitiveKey reports whether an attribute or header name suggests a
// credential value.
func (r *Redactor) SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// RedactHeaders returns a copy of headers with credential headers masked.
func (r *Redactor) RedactHeaders(headers map[string][]string) map[string][]string {
	result := make(map[string][]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "x-goog-api-key", "api-key", "cookie", "set-cookie", "x-vault-token":
			result[k] = []string{"[REDACTED]"}
		default:
			result[k] = v
		}
	}
	return result
}
