// Package render is the inline text-rendering collaborator. The
// coordinator delegates sanitization here and never decides how content
// is displayed.
package render

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Inline sanitizes user-supplied message text.
type Inline interface {
	RenderInline(raw string) string
}

// Sanitizer strips all markup and control characters, leaving plain
// text. Clients apply their own formatting on top of the markers the
// dispatcher inserts.
type Sanitizer struct {
	policy *bluemonday.Policy
}

var _ Inline = (*Sanitizer)(nil)

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *Sanitizer) RenderInline(raw string) string {
	out := s.policy.Sanitize(raw)
	// bluemonday leaves entity-escaped text; normalize whitespace only.
	return strings.TrimSpace(out)
}
