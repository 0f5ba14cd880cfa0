package extract

import (
	"regexp"
	"strings"
)

const (
	// MinVINLength and MaxVINLength bound what LooksLikeVIN accepts. Pre-1981
	// vehicles carry VINs shorter than 17 characters, hence the lower bound.
	MinVINLength = 11
	MaxVINLength = 17

	maxNormalizedLength = 25
)

// alnumRun matches maximal alphanumeric runs in upper-cased free text.
var alnumRun = regexp.MustCompile(`[A-Z0-9]+`)

// NormalizeVIN upper-cases ASCII letters, drops everything outside [A-Z0-9]
// and truncates to 25 characters.
func NormalizeVIN(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < maxNormalizedLength; i++ {
		c := raw[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		}
	}
	return b.String()
}

// LooksLikeVIN reports whether the normalized candidate has a VIN length and
// none of the letters I, O and Q.
func LooksLikeVIN(candidate string) bool {
	n := NormalizeVIN(candidate)
	if len(n) < MinVINLength || len(n) > MaxVINLength {
		return false
	}
	return !strings.ContainsAny(n, "IOQ")
}

// FindVINToken returns the first 17-character VIN-shaped token embedded in s.
// Tokens made only of digits or only of letters are ignored.
func FindVINToken(s string) (string, bool) {
	for _, run := range alnumRun.FindAllString(strings.ToUpper(s), -1) {
		if len(run) == MaxVINLength && !strings.ContainsAny(run, "IOQ") && hasLetterAndDigit(run) {
			return run, true
		}
	}
	return "", false
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digit = true
		case c >= 'A' && c <= 'Z':
			letter = true
		}
	}
	return letter && digit
}
