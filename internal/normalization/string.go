package normalization

import (
	"strings"
)

// fallback slug for inputs that normalize to nothing
const FallbackSlug = "concept"

func ParseInputString(input string) string {
	normalized := strings.ToLower(strings.TrimSpace(input))
	return normalized
}

func ParseInputStringPtr(input *string) *string {
	normalized := strings.ToLower(strings.TrimSpace(*input))
	return &normalized
}

// Slug maps free-text concept names onto canonical identifiers. Inputs that
// differ only by case, surrounding whitespace or separator punctuation map to
// the same slug: lower-case, collapse every run outside [a-z0-9] to a single
// '-', trim leading/trailing '-'. Total: an empty result becomes FallbackSlug.
func Slug(input string) string {
	normalized := ParseInputString(input)

	var b strings.Builder
	b.Grow(len(normalized))
	pendingSep := false
	for _, r := range normalized {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	slug := b.String()
	if slug == "" {
		return FallbackSlug
	}
	return slug
}
