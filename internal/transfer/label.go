package transfer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxLabelRunes is the transfer service's label length limit.
const maxLabelRunes = 128

// labelReplacement stands in for every character the label syntax rejects.
const labelReplacement = '_'

// Label builds a human-readable task label from the repositories and paths.
// Path separators, dots and anything outside letters, digits, space,
// underscore, comma and hyphen become underscores; accents are dropped
// first so "é" reads as "e" rather than "_".
func Label(sourceRepo, sourcePath, destinationRepo, destinationPath string) string {
	raw := fmt.Sprintf("%s %s to %s %s", sourceRepo, sourcePath, destinationRepo, destinationPath)

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder

	n := 0
	for _, r := range folded {
		if n == maxLabelRunes {
			break
		}

		b.WriteRune(labelRune(r))
		n++
	}

	return b.String()
}

func labelRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	case r == ' ', r == '_', r == ',', r == '-':
		return r
	default:
		return labelReplacement
	}
}
