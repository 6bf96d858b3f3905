package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	// Spoken credentials ("my password is hunter2") show up in transcripts.
	secretPattern = regexp.MustCompile(`(?i)\b(password|passcode|pin)\b\s*(?:is|:)?\s*\S+`)
)

type rule struct {
	re     *regexp.Regexp
	marker string
}

// Card redaction runs before phone so long digit runs are classified as cards.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{secretPattern, "[REDACTED_SECRET]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks contact details, card numbers and spoken secrets before a
// transcript leaves the call screen.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.re.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
