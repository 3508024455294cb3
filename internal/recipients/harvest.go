package recipients

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// mailtoPattern matches mailto: links, capturing the address part.
	mailtoPattern = regexp.MustCompile(`(?i)mailto:([^\s"'<>?]+)`)

	// addressPattern matches bare email addresses.
	addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// Harvest extracts normalized addresses from body text: mailto: links
// first, then bare addresses. The result is deduplicated and keeps the
// order of first occurrence.
func Harvest(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	add := func(raw string) {
		if dec, err := url.PathUnescape(raw); err == nil {
			raw = dec
		}
		email := Normalize(raw)
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		result = append(result, email)
	}

	for _, m := range mailtoPattern.FindAllStringSubmatch(text, -1) {
		add(strings.TrimRight(m[1], ".,;)"))
	}
	for _, m := range addressPattern.FindAllString(text, -1) {
		add(m)
	}
	return result
}
