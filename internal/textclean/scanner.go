// Package textclean finds and removes characters that hide or disguise text:
// zero-width and bidi controls, tag characters, stray control bytes, odd
// space variants, and Cyrillic/Greek look-alikes hidden inside Latin words.
// Words written wholly in Cyrillic or Greek are left alone. Detection runs on the sanitized text, so these tricks cannot shift a score.
package textclean

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Finding is one suspicious character in the input.
type Finding struct {
	Category    string `json:"category"` // "zero-width", "bidi-override", "tag-char", "control-char", "space-variant", "homoglyph-cyrillic", "homoglyph-greek", "invalid-utf8"
	Description string `json:"description"`
	Position    int    `json:"position"` // byte offset in the input
	Codepoint   string `json:"codepoint"`
}

// ScanResult holds the output of Scan.
type ScanResult struct {
	Clean     bool
	Findings  []Finding
	Sanitized string
}

// Counts groups findings by category.
func (r ScanResult) Counts() map[string]int {
	counts := map[string]int{}
	for _, f := range r.Findings {
		counts[f.Category]++
	}
	return counts
}

// Scan inspects text and returns it with hidden characters removed, space
// variants turned into plain spaces, and homoglyphs in mixed-script words
// folded to Latin.
func Scan(input string) ScanResult {
	result := ScanResult{Clean: true}
	var sanitized strings.Builder
	sanitized.Grow(len(input))

	i := 0
	wordEnd, mixed := 0, false
	for i < len(input) {
		if i >= wordEnd {
			wordEnd, mixed = nextWord(input, i)
		}
		r, size := utf8.DecodeRuneInString(input[i:])

		if r == utf8.RuneError && size == 1 {
			result.Clean = false
			result.Findings = append(result.Findings, Finding{
				Category:    "invalid-utf8",
				Description: "Invalid UTF-8 byte sequence",
				Position:    i,
				Codepoint:   fmt.Sprintf("0x%02X", input[i]),
			})
			i++
			continue
		}

		finding, replacement, found := classifyRune(r, i, mixed)
		if found {
			result.Clean = false
			result.Findings = append(result.Findings, finding)
			if replacement != 0 {
				sanitized.WriteRune(replacement)
			}
		} else {
			sanitized.WriteRune(r)
		}
		i += size
	}

	result.Sanitized = sanitized.String()
	return result
}

// nextWord returns the end of the word starting at start and whether that
// word holds a Latin letter. Invisible characters do not split a word. A
// rune outside any word is returned as a word of its own.
func nextWord(input string, start int) (int, bool) {
	end, latin := start, false
	for end < len(input) {
		r, size := utf8.DecodeRuneInString(input[end:])
		if !isWordRune(r) {
			break
		}
		if unicode.Is(unicode.Latin, r) {
			latin = true
		}
		end += size
	}
	if end == start {
		_, size := utf8.DecodeRuneInString(input[start:])
		return start + size, false
	}
	return end, latin
}

func isWordRune(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) ||
		isZeroWidth(r) || isBidiOverride(r) || isTagCharacter(r)
}

// classifyRune returns the finding for r and the rune to emit in its place
// (0 drops it). Look-alikes count only when inLatinWord is set.
func classifyRune(r rune, pos int, inLatinWord bool) (Finding, rune, bool) {
	cp := fmt.Sprintf("U+%04X", r)
	f := Finding{Position: pos, Codepoint: cp}

	switch {
	case isZeroWidth(r):
		f.Category = "zero-width"
		f.Description = fmt.Sprintf("Zero-width character %s hides content from display", cp)
		return f, 0, true
	case isBidiOverride(r):
		f.Category = "bidi-override"
		f.Description = fmt.Sprintf("Bidirectional control %s reorders displayed text", cp)
		return f, 0, true
	case isTagCharacter(r):
		f.Category = "tag-char"
		f.Description = fmt.Sprintf("Unicode tag character %s carries invisible payload", cp)
		return f, 0, true
	case isUnsafeControl(r):
		f.Category = "control-char"
		f.Description = fmt.Sprintf("Control character %s has no place in prose", cp)
		return f, 0, true
	case isSpaceVariant(r):
		f.Category = "space-variant"
		f.Description = fmt.Sprintf("Non-standard space %s", cp)
		return f, ' ', true
	}

	if !inLatinWord {
		return Finding{}, 0, false
	}
	if latin, ok := cyrillicHomoglyphs[r]; ok && unicode.Is(unicode.Cyrillic, r) {
		f.Category = "homoglyph-cyrillic"
		f.Description = fmt.Sprintf("Cyrillic %s looks like Latin '%c'", cp, latin)
		return f, latin, true
	}
	if latin, ok := greekHomoglyphs[r]; ok && unicode.Is(unicode.Greek, r) {
		f.Category = "homoglyph-greek"
		f.Description = fmt.Sprintf("Greek %s looks like Latin '%c'", cp, latin)
		return f, latin, true
	}

	return Finding{}, 0, false
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF', // ZERO WIDTH NO-BREAK SPACE (BOM)
		'\u2060', // WORD JOINER
		'\u180E', // MONGOLIAN VOWEL SEPARATOR
		'\u00AD', // SOFT HYPHEN
		'\u200E', // LEFT-TO-RIGHT MARK
		'\u200F': // RIGHT-TO-LEFT MARK
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

func isTagCharacter(r rune) bool {
	return r >= 0xE0001 && r <= 0xE007F
}

func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

func isSpaceVariant(r rune) bool {
	switch {
	case r == '\u00A0', r == '\u202F', r == '\u205F', r == '\u3000':
		return true
	case r >= '\u2000' && r <= '\u200A':
		return true
	}
	return false
}

var cyrillicHomoglyphs = map[rune]rune{
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'К': 'K', 'М': 'M', 'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P', 'Т': 'T', 'х': 'x', 'Х': 'X', 'у': 'y', 'У': 'Y',
	'ѕ': 's', 'ј': 'j',
}

var greekHomoglyphs = map[rune]rune{
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	'Ζ': 'Z', 'ν': 'v',
}
