package exchange

import (
	"strings"
	"unicode"
)

const mintSuffixLen = 6

// tokenSymbol picks a display ticker for a freshly listed token. Launchpad
// metadata is often empty or full of emoji, so it falls back to the name
// tagged with the mint tail, then to the mint tail alone.
func tokenSymbol(symbol, name, mint string) string {
	if s := tickerChars(symbol); s != "" {
		return s
	}
	tail := tickerChars(mint)
	if len(tail) > mintSuffixLen {
		tail = tail[len(tail)-mintSuffixLen:]
	}
	head := tickerChars(name)
	if head == "" {
		head = "TOKEN"
	}
	if tail == "" {
		return head
	}
	return head + "_" + tail
}

// tickerChars keeps ASCII letters and digits, upper-cased.
func tickerChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}
