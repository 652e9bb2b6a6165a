package archive

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Australian mobile and landline numbers, with or without +61.
	phoneRe = regexp.MustCompile(`(?:\+?61[\s-]?|0)[2-478](?:[\s-]?[0-9]){8}`)
)

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Manifest lines are shared more widely than the archived payloads, so
// failure reasons are scrubbed before they are written there.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
