package fiscal

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tabla fija de transliteración para caracteres que la descomposición Unicode no resuelve.
var asciiReplacements = map[rune]string{
	'ß': "ss", 'ẞ': "SS",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'ø': "o", 'Ø': "O",
	'đ': "d", 'Đ': "D",
	'ł': "l", 'Ł': "L",
	'þ': "th", 'Þ': "TH",
	'ð': "d", 'Ð': "D",
	'ı': "i",
	'‘': "'", '’': "'", '‚': "'", '′': "'",
	'“': "\"", '”': "\"", '„': "\"", '″': "\"",
	'«': "\"", '»': "\"",
	'–': "-", '—': "-", '‐': "-", '−': "-",
	'…': "...",
	'\u00a0': " ",
	'×': "x",
	'€': "EUR",
	'º': "o", 'ª': "a",
}

// SanitizeASCII translitera el texto a ASCII y lo trunca a maxLen caracteres.
// Las letras latinas acentuadas pierden el diacrítico (Café → Cafe); los caracteres sin
// equivalente (emoji, ideogramas) se eliminan.
func SanitizeASCII(text string, maxLen int) string {
	if text == "" || maxLen <= 0 {
		return ""
	}
	var pre strings.Builder
	pre.Grow(len(text))
	for _, r := range text {
		if rep, ok := asciiReplacements[r]; ok {
			pre.WriteString(rep)
			continue
		}
		pre.WriteRune(r)
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, pre.String())
	if err != nil {
		decomposed = pre.String()
	}

	var out strings.Builder
	out.Grow(len(decomposed))
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		out.WriteRune(r)
		if out.Len() == maxLen {
			break
		}
	}
	return out.String()
}

// ValidateASCII informa si el texto ya es ASCII puro (0x00–0x7F).
func ValidateASCII(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
