package fhir

import "strings"

// Characters with special meaning in a search value. Each may be escaped
// with a backslash to be taken literally.
const escapedChars = `\,$|`

// SplitUnescaped splits s around every sep that is not escaped. A backslash
// and the byte after it always travel together, so "a\\,b" splits into
// "a\\" and "b" while "a\,b" is one part. Parts keep their escapes.
func SplitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// UnescapeSearchValue resolves \, \$ \| and \\ in s. A backslash before
// any other byte is kept as it is. After the symbol escapes are resolved
// the number of remaining backslashes must be even, so "a\b\c" is
// accepted while "a\b" and a trailing backslash are not.
func UnescapeSearchValue(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	slashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) {
			switch s[i+1] {
			case ',', '$', '|':
				i++
				b.WriteByte(s[i])
				continue
			case '\\':
				i++
				slashes += 2
				b.WriteByte('\\')
				continue
			}
		}
		slashes++
		b.WriteByte('\\')
	}
	if slashes%2 == 1 {
		return "", newSearchError(ErrInvalidEscaping, "", s, "odd number of unescaped backslashes")
	}
	return b.String(), nil
}

// EscapeSearchValue is the inverse of UnescapeSearchValue.
func EscapeSearchValue(s string) string {
	if !strings.ContainsAny(s, escapedChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(escapedChars, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
