package security

import "regexp"

// secretPattern pairs a human-readable name with a detection regex.
type secretPattern struct {
	Name string
	Re   *regexp.Regexp
}

// secretPatterns covers key shapes that must never leave the process in
// agent responses or channel messages.
var secretPatterns = []secretPattern{
	{"Anthropic API key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`)},
	{"OpenAI API key", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)},
	{"Stripe key", regexp.MustCompile(`(sk|pk)_(test|live)_[a-zA-Z0-9]{20,}`)},
	{"GitHub token", regexp.MustCompile(`(ghp|gho|ghu|ghs|ghr)_[a-zA-Z0-9]{36,}`)},
	{"GitHub fine-grained PAT", regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{20,}`)},
	{"Slack token", regexp.MustCompile(`xox[bpasr]-[a-zA-Z0-9-]{20,}`)},
	{"Slack webhook", regexp.MustCompile(`hooks\.slack\.com/services/T[A-Z0-9]+/B[A-Z0-9]+/[a-zA-Z0-9]+`)},
	{"Telegram bot token", regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{35}`)},
	{"AWS access key", regexp.MustCompile(`AKIA[A-Z0-9]{16}`)},
	{"Google API key", regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`)},
	{"SendGrid key", regexp.MustCompile(`SG\.[a-zA-Z0-9_-]{22}\.[a-zA-Z0-9_-]{43}`)},
	{"Bearer token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`)},
	{"Private key block", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"Connection string with password", regexp.MustCompile(`(?i)(postgres|mysql|mongodb|redis)://[^:\s]+:[^@\s]+@`)},
	{"Generic secret assignment", regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|auth[_-]?token|secret[_-]?key|access[_-]?token|private[_-]?key|password)\s*[=:]\s*['"]?[A-Za-z0-9+/=_-]{16,}['"]?`)},
}

// Finding is one detected secret.
type Finding struct {
	Pattern string
	Match   string
}

// DetectSecrets scans text for secret-shaped substrings.
func DetectSecrets(text string) []Finding {
	var findings []Finding
	for _, p := range secretPatterns {
		for _, match := range p.Re.FindAllString(text, -1) {
			findings = append(findings, Finding{Pattern: p.Name, Match: match})
		}
	}
	return findings
}

// MaskSecrets replaces detected secrets, keeping short prefixes and
// suffixes for identification.
func MaskSecrets(text string) string {
	for _, p := range secretPatterns {
		text = p.Re.ReplaceAllStringFunc(text, maskValue)
	}
	return text
}

func maskValue(value string) string {
	if len(value) <= 12 {
		return value[:3] + repeat('*', len(value)-3)
	}
	return value[:4] + repeat('*', len(value)-8) + value[len(value)-4:]
}

func repeat(c byte, n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = c
	}
	return string(buf)
}
