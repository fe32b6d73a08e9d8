package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// strokes are letters whose diacritic is part of the glyph, so canonical
// decomposition leaves them alone.
var strokes = strings.NewReplacer(
	"đ", "d", "Đ", "d",
	"ł", "l", "Ł", "l",
	"ø", "o", "Ø", "o",
	"ħ", "h", "Ħ", "h",
	"ß", "ss",
)

// Normalize folds s for comparison: diacritics removed, lower-cased, with
// surrounding space trimmed and inner runs of space collapsed.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strokes.Replace(strings.ToLower(folded))
	return strings.Join(strings.Fields(folded), " ")
}
