package security

import (
	"regexp"
	"strconv"

	"pagechat/internal/config"
)

// Redactor masks personal data in page text before it is sent to a provider.
// Each distinct value gets a numbered placeholder, stable within one call.
type Redactor struct {
	filters []piiFilter
}

type piiFilter struct {
	name    string
	pattern *regexp.Regexp
	prefix  string
}

var defaultFilters = []struct {
	name    string
	pattern string
	prefix  string
}{
	{"email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "EMAIL"},
	{"card", `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "CARD"},
	{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, "SSN"},
	{"ip", `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`, "IP"},
	{"phone", `(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`, "PHONE"},
}

// NewRedactor creates a redactor from config. It returns nil when filtering
// is disabled or no filter is selected.
func NewRedactor(cfg config.PIIFilterConfig) *Redactor {
	if !cfg.Enabled {
		return nil
	}
	enabled := map[string]bool{
		"email": cfg.FilterEmails,
		"phone": cfg.FilterPhones,
		"card":  cfg.FilterCards,
		"ip":    cfg.FilterIPs,
		"ssn":   cfg.FilterSSN,
	}

	r := &Redactor{}
	for _, f := range defaultFilters {
		if enabled[f.name] {
			r.filters = append(r.filters, piiFilter{
				name:    f.name,
				pattern: regexp.MustCompile(f.pattern),
				prefix:  f.prefix,
			})
		}
	}
	if len(r.filters) == 0 {
		return nil
	}
	return r
}

// Redact replaces personal data in text with placeholders such as [EMAIL_1].
func (r *Redactor) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, f := range r.filters {
		seen := make(map[string]string)
		text = f.pattern.ReplaceAllStringFunc(text, func(match string) string {
			if p, ok := seen[match]; ok {
				return p
			}
			p := "[" + f.prefix + "_" + strconv.Itoa(len(seen)+1) + "]"
			seen[match] = p
			return p
		})
	}
	return text
}
