package model

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaskName keeps the first word of a legal name and reduces every other
// word to its initial: "Acme Reciclagem Ltda" -> "Acme R. L.".
func MaskName(name string) string {
	words := strings.Fields(norm.NFC.String(name))
	if len(words) == 0 {
		return ""
	}
	out := make([]string, 0, len(words))
	out = append(out, words[0])
	for _, w := range words[1:] {
		r, _ := utf8.DecodeRuneInString(w)
		out = append(out, string(unicode.ToUpper(r))+".")
	}
	return strings.Join(out, " ")
}

// MaskTaxID replaces every digit except the last four with '*' and keeps
// punctuation: "12.345.678/0001-90" -> "**.***.***/**01-90".
func MaskTaxID(taxID string) string {
	digits := 0
	for _, r := range taxID {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	keep := digits - 4
	var b strings.Builder
	seen := 0
	for _, r := range taxID {
		if unicode.IsDigit(r) {
			seen++
			if seen <= keep {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
