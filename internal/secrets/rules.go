package secrets

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// DefaultRules returns the rules applied when Config.Rules is empty.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS secret access key",
			Pattern:     `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords:    []string{"secret_access_key"},
			Severity:    SeverityHigh,
		},
		{
			ID:          "private-key",
			Description: "PEM private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`,
			Keywords:    []string{"PRIVATE KEY"},
			Severity:    SeverityHigh,
		},
		{
			ID:          "google-api-key",
			Description: "Google API key",
			Pattern:     `AIza[0-9A-Za-z_-]{35}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\bgh[pousr]_[A-Za-z0-9]{36,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `\bxox[baprs]-[A-Za-z0-9-]{10,}`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "connection-string",
			Description: "Connection string with embedded credentials",
			Pattern:     `\b(?:mongodb(?:\+srv)?|postgres(?:ql)?|mysql|redis|amqps?)://[^:/\s]+:[^@\s]+@[^\s]+`,
			Severity:    SeverityHigh,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`,
			Severity:    SeverityMedium,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer authorization header",
			Pattern:     `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`,
			Keywords:    []string{"bearer"},
			Severity:    SeverityMedium,
		},
		{
			ID:          "generic-api-key",
			Description: "Assigned API key",
			Pattern:     `(?i)\b(?:api[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`,
			Keywords:    []string{"key", "token"},
			Severity:    SeverityMedium,
		},
		{
			ID:          "generic-password",
			Description: "Assigned password",
			Pattern:     `(?i)\b(?:password|passwd|pwd|client_secret)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"password", "passwd", "pwd", "secret"},
			Severity:    SeverityMedium,
		},
	}
}
