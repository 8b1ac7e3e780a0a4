package notify

import (
	"strings"
)

var sensitivePatterns = []string{
	"password",
	"aws_access_key",
	"aws_secret",
	"accesskeyid",
	"secretaccesskey",
	"sessiontoken",
}

// Redact hides credentials in log text before it is mailed. Known secrets
// are masked wherever they appear; lines that look like they carry a
// credential are replaced as a whole.
func Redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) >= 4 {
			text = strings.ReplaceAll(text, s, "[REDACTED]")
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if containsSensitive(line) {
			lines[i] = "[REDACTED: credential]"
		}
	}
	return strings.Join(lines, "\n")
}

func containsSensitive(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
