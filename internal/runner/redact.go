package runner

import "regexp"

var secretPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)vfrog_[a-z0-9]{32}`), "VFROG_API_KEY"},
	{regexp.MustCompile(`(?i)sk-[a-z0-9]{32,}`), "MODAL_TOKEN"},
	{regexp.MustCompile(`(?i)wandb_[a-z0-9]{32,}`), "WANDB_API_KEY"},
	{regexp.MustCompile(`(?i)\b[a-z0-9]{32,}\b`), "GENERIC_KEY"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)(\s*[=:]\s*)\S+`), ""},
}

// Redact replaces anything that looks like a credential in s.
func Redact(s string) string {
	for _, p := range secretPatterns {
		if p.name == "" {
			s = p.re.ReplaceAllString(s, "${1}${2}[REDACTED]")
			continue
		}
		s = p.re.ReplaceAllString(s, "[REDACTED:"+p.name+"]")
	}
	return s
}
