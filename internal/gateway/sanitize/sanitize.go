// Package sanitize is the gateway's single security choke-point: a
// regex-based scanner that rejects high-confidence secret-shaped content
// in user-role messages and redacts it everywhere else. The ruleset lives
// in code, not config, by design.
package sanitize

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// sensitivePatterns mirrors the audit-trail scrubber this gateway's
// sanitizer is grounded on, extended with provider-style API key prefixes
// the LLM gateway specifically needs to catch in user input.
var sensitivePatterns = []*regexp.Regexp{
	// Bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9\-_.~+/]+=*`),
	// Authorization headers
	regexp.MustCompile(`(?i)(authorization:\s*)(bearer\s+)?[a-zA-Z0-9\-_.~+/]+=*`),
	// Base64-encoded tokens (long sequences)
	regexp.MustCompile(`(?i)(token["\s:=]+)[a-zA-Z0-9+/]{40,}=*`),
	// JWTs
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	// Generic API keys
	regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)[a-zA-Z0-9\-_.]{20,}`),
	// Vault tokens
	regexp.MustCompile(`hvs\.[a-zA-Z0-9]{20,}`),
	// AWS-style keys
	regexp.MustCompile(`(?i)(aws_secret_access_key["\s:=]+)[a-zA-Z0-9/+=]{20,}`),
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	// Password fields
	regexp.MustCompile(`(?i)(password["\s:=]+)\S+`),
	// Private key blocks
	regexp.MustCompile(`(?s)-----BEGIN[A-Z ]*PRIVATE KEY-----.*?-----END[A-Z ]*PRIVATE KEY-----`),
	// LLM provider API keys (Anthropic/OpenAI-style "sk-...")
	regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{20,}`),
}

// ContainsSecret reports whether text matches any high-confidence secret
// pattern.
func ContainsSecret(text string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces every match of a sensitive pattern with a placeholder,
// preserving the matched prefix label where one was captured (e.g.
// "token: " or "Authorization: ") so the surrounding text stays readable.
// Redact is idempotent: Redact(Redact(x)) == Redact(x), since the
// placeholder text itself never matches any pattern.
func Redact(text string) string {
	result := text
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			loc := pattern.FindStringSubmatchIndex(match)
			if len(loc) >= 4 && loc[2] >= 0 {
				prefix := match[loc[2]:loc[3]]
				return prefix + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// Role distinguishes the message role Sanitize is applied to, since
// policy differs: reject in user-role content, redact elsewhere.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrSensitive is returned by Sanitize when role is RoleUser and the
// content matches a high-confidence secret pattern.
var ErrSensitive = sensitiveContentError{}

type sensitiveContentError struct{}

func (sensitiveContentError) Error() string { return "sanitize: sensitive content detected" }

// Sanitize applies the reject-or-redact policy for role: user-role
// content matching a secret pattern is rejected outright; content in any
// other role is redacted in place.
func Sanitize(role Role, text string) (string, error) {
	if role == RoleUser && ContainsSecret(text) {
		return "", ErrSensitive
	}
	return Redact(text), nil
}

// TruncateResult redacts text and truncates it to maxLen, matching the
// teacher's audit-trail recording helper. Used when logging tool/provider
// output rather than when enforcing the gateway's input policy.
func TruncateResult(text string, maxLen int) string {
	redacted := Redact(text)
	if maxLen > 0 && len(redacted) > maxLen {
		return redacted[:maxLen] + "... (truncated)"
	}
	return redacted
}

// isCredentialKey reports whether a map key name suggests it holds a
// secret, for SanitizeMap's defence-in-depth scrubbing of structured
// request metadata.
func isCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token", "api_key", "apikey", "private_key", "credential"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// SanitizeMap redacts every value in m whose key looks credential-shaped,
// and Redacts (never rejects) the rest.
func SanitizeMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if isCredentialKey(k) {
			out[k] = redactedPlaceholder
		} else {
			out[k] = Redact(v)
		}
	}
	return out
}
