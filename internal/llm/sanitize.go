package llm

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips markup from model output before it is stored and shown.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean removes every HTML element and returns plain text.
func (s *Sanitizer) Clean(text string) string {
	cleaned := s.policy.Sanitize(text)
	// StrictPolicy escapes entities; the output is plain text, not HTML
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
