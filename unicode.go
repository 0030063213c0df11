package dyc

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// encodeUTF8 appends the UTF-8 encoding of c to buf and returns the new
// slice, mirroring dyibicc's encode_utf8 (unicode.c).
func encodeUTF8(buf []byte, c rune) []byte {
	var tmp [utf8.UTFMax]byte
	n := utf8.EncodeRune(tmp[:], c)
	return append(buf, tmp[:n]...)
}

// decodeUTF8 decodes one code point starting at p, returning the rune and
// a pointer (byte offset) to the following code point.
func decodeUTF8(s string, pos int) (rune, int) {
	r, size := utf8.DecodeRuneInString(s[pos:])
	if r == utf8.RuneError && size <= 1 {
		// Invalid byte: treat as Latin-1, same recovery dyibicc's
		// decode_utf8 falls back to for malformed input.
		return rune(s[pos]), pos + 1
	}
	return r, pos + size
}

// isIdent1 reports whether c may start an identifier: C11 syntax plus the
// common UAX #31-derived ranges dyibicc accepts for UTF-8 identifiers.
func isIdent1(c rune) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	if c < 0x80 {
		return false
	}
	switch {
	case c >= 0x00A8 && c <= 0x2FFF:
		return true
	case c >= 0x3004 && c <= 0xD7FF:
		return true
	case c >= 0xF900 && c <= 0xFDCF:
		return true
	case c >= 0xFDF0 && c <= 0xFFFD:
		return true
	case c >= 0x10000 && c <= 0xEFFFF:
		return true
	}
	return false
}

// isIdent2 reports whether c may continue an identifier (isIdent1 plus
// the ASCII digits).
func isIdent2(c rune) bool {
	if c >= '0' && c <= '9' {
		return true
	}
	return isIdent1(c)
}

// displayWidth approximates the terminal column width of s, used to place
// the caret under diagnostics (§7). East Asian wide/fullwidth code points
// (common in UTF-8 identifiers and string-literal diagnostics) count as two
// columns via golang.org/x/text/width's East Asian Width classification;
// combining marks and C0 controls count as zero; everything else is one
// column per code point.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		switch {
		case r < 0x20 || unicode.In(r, unicode.Mn, unicode.Me):
			continue
		case width.LookupRune(r).Kind() == width.EastAsianWide, width.LookupRune(r).Kind() == width.EastAsianFullwidth:
			w += 2
		default:
			w++
		}
	}
	return w
}
