package chat

import "regexp"

// DisallowedReply is returned verbatim for messages outside the blog's topics.
const DisallowedReply = "Sorry, I can only answer specific questions about the blog."

var allowedPatterns = compileAll(
	`post`,
	`author`,
	`comment`,
	`category|categories`,
	`login|sign in`,
	`logout|sign out`,
	`register|sign up`,
	`profile`,
	`password`,
	`contact`,
	`about`,
	`search`,
	`tag`,
	`filter`,
	`like`,
	`view`,
	`create.*post`,
	`edit.*post`,
	`delete.*post`,
	`update.*post`,
	`how.*(delete|edit|update|register|login|logout|sign up|sign in|change password|reset password|contact|search|filter|like|comment|view|find|use)`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+pattern))
	}
	return compiled
}

// Allowed reports whether message mentions a blog topic the assistant may answer.
// Patterns match anywhere in the message, case-insensitively.
func Allowed(message string) bool {
	for _, pattern := range allowedPatterns {
		if pattern.MatchString(message) {
			return true
		}
	}
	return false
}
