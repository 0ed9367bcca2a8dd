package prompt

import (
	"regexp"
	"strings"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	heading    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
)

// verboseReplacements is the fixed table of verbose->terse phrase rewrites.
// Order matters: longer phrases first so substrings don't shadow them.
var verboseReplacements = [][2]string{
	{"it is important to note that", "note:"},
	{"in order to", "to"},
	{"as well as", "and"},
	{"a large number of", "many"},
	{"a wide variety of", "varied"},
	{"take into account", "consider"},
	{"with respect to", "for"},
	{"in the context of", "for"},
	{"at this point in time", "now"},
	{"comprehensive", "full"},
	{"utilize", "use"},
	{"approximately", "about"},
}

// Compress applies the lossy textual compression pass: whitespace
// normalization, removal of non-semantic emphasis markup, and the fixed
// verbose->terse phrase table. Output is still readable prose; the intent is
// cheaper tokens, not minification.
func Compress(text string) string {
	// Strip emphasis markup that carries no meaning for the model.
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = heading.ReplaceAllString(text, "")

	for _, pair := range verboseReplacements {
		text = replaceFold(text, pair[0], pair[1])
	}

	// Whitespace normalization.
	text = spaceRun.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	lowerOld := strings.ToLower(old)
	for {
		i := strings.Index(lower, lowerOld)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(old):]
	}
}
