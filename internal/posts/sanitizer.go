package posts

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips unsafe markup from submitted posts. Policies are safe for concurrent use.
type Sanitizer struct {
	content *bluemonday.Policy
	text    *bluemonday.Policy
}

// NewSanitizer builds the post content (user-generated HTML) and plain-text policies.
func NewSanitizer() *Sanitizer {
	content := bluemonday.UGCPolicy()
	content.RequireNoFollowOnLinks(true)
	content.AddTargetBlankToFullyQualifiedLinks(true)
	content.AllowURLSchemes("https", "http", "mailto")

	return &Sanitizer{
		content: content,
		text:    bluemonday.StrictPolicy(),
	}
}

// Content keeps formatting markup and drops scripts, handlers and unsafe URLs.
func (s *Sanitizer) Content(raw string) string {
	return s.content.Sanitize(raw)
}

// Text removes all markup, returning plain text for titles and tags.
func (s *Sanitizer) Text(raw string) string {
	return html.UnescapeString(s.text.Sanitize(raw))
}
