package analyzer

import (
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// cleanUTF8 drops a leading byte order mark and turns ill-formed bytes
// into '?'. Runes split across reads are held back until complete.
func cleanUTF8(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(transform.Nop),
		runes.Map(func(c rune) rune {
			if c == utf8.RuneError {
				return '?'
			}
			return c
		}),
	))
}

// incompleteTrailingBytes counts the bytes of a multibyte rune cut off at the
// end of data, so a sniff buffer is not mistaken for invalid UTF-8.
func incompleteTrailingBytes(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if utf8.RuneStart(b) {
			if b >= 0xC0 && !utf8.FullRune(data[len(data)-i:]) {
				return i
			}
			return 0
		}
	}
	return 0
}
