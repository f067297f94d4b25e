package execguard

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// confusableMap maps cross-script homoglyphs to their ASCII look-alikes.
// NFKC does not fold these (they are distinct letters, not compatibility
// forms), so a Cyrillic "гm" would otherwise dodge every name table.
var confusableMap = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'ο': 'o', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H',
	'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
	'Υ': 'Y', 'Χ': 'X',
}

// zero-width and joiner characters that can split a name without changing
// how the shell sees it after copy/paste.
var zeroWidth = map[rune]bool{
	'​': true, // zero width space
	'‌': true, // zero width non-joiner
	'‍': true, // zero width joiner
	'⁠': true, // word joiner
	'\ufeff': true, // BOM
}

// NormalizeCommand prepares a raw command line for analysis: strips null
// bytes and zero-width characters, applies NFKC (fullwidth → ASCII,
// compatibility decomposition), and folds cross-script confusables. The
// analyzer only ever sees the normalized form, so a fullwidth or homoglyph
// spelling of a utility name cannot reach a different code path than the
// plain spelling.
func NormalizeCommand(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = norm.NFKC.String(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if zeroWidth[r] {
			continue
		}
		if folded, ok := confusableMap[r]; ok {
			r = folded
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
