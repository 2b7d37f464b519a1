// Package isbn validates ISBN-10 and ISBN-13 identifiers and converts between them.
package isbn

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when an identifier does not have the shape of an ISBN.
var ErrMalformed = errors.New("malformed ISBN")

const bookland = "978"

// Clean strips hyphens and spaces and upper-cases a trailing x.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// CheckDigit13 computes the ISBN-13 check digit for the first twelve digits.
func CheckDigit13(first12 string) (byte, error) {
	if len(first12) != 12 || !allDigits(first12) {
		return 0, fmt.Errorf("%w: need 12 digits, got %q", ErrMalformed, first12)
	}
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(first12[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	r := sum % 10
	if r == 0 {
		return '0', nil
	}
	return byte('0' + 10 - r), nil
}

// CheckDigit10 computes the ISBN-10 check digit for the first nine digits.
// The result is 'X' when the check value is 10.
func CheckDigit10(first9 string) (byte, error) {
	if len(first9) != 9 || !allDigits(first9) {
		return 0, fmt.Errorf("%w: need 9 digits, got %q", ErrMalformed, first9)
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(first9[i]-'0') * (10 - i)
	}
	check := (11 - sum%11) % 11
	if check == 10 {
		return 'X', nil
	}
	return byte('0' + check), nil
}

// IsValidISBN13 reports whether s is a 13 digit ISBN with a correct check digit.
func IsValidISBN13(s string) bool {
	s = Clean(s)
	if len(s) != 13 || !allDigits(s) {
		return false
	}
	check, err := CheckDigit13(s[:12])
	return err == nil && check == s[12]
}

// IsValidISBN10 reports whether s is a 10 character ISBN with a correct check digit.
func IsValidISBN10(s string) bool {
	s = Clean(s)
	if len(s) != 10 || !allDigits(s[:9]) {
		return false
	}
	check, err := CheckDigit10(s[:9])
	return err == nil && check == s[9]
}

// ToISBN13 converts an ISBN-10 to its ISBN-13 form. The ISBN-10 check
// character must be a digit or X; its value is dropped, not validated.
func ToISBN13(isbn10 string) (string, error) {
	s := Clean(isbn10)
	if len(s) != 10 || !allDigits(s[:9]) || !isCheck10(s[9]) {
		return "", fmt.Errorf("%w: %q is not an ISBN-10", ErrMalformed, isbn10)
	}
	core := bookland + s[:9]
	check, err := CheckDigit13(core)
	if err != nil {
		return "", err
	}
	return core + string(check), nil
}

// ToISBN10 converts a 978-prefixed ISBN-13 back to ISBN-10. 979 numbers have
// no ISBN-10 form.
func ToISBN10(isbn13 string) (string, error) {
	s := Clean(isbn13)
	if len(s) != 13 || !allDigits(s) {
		return "", fmt.Errorf("%w: %q is not an ISBN-13", ErrMalformed, isbn13)
	}
	if !strings.HasPrefix(s, bookland) {
		return "", fmt.Errorf("%w: %q has no ISBN-10 form", ErrMalformed, isbn13)
	}
	core := s[3:12]
	check, err := CheckDigit10(core)
	if err != nil {
		return "", err
	}
	return core + string(check), nil
}

// Normalize13 returns the 13 digit form of a valid ISBN-10 or ISBN-13.
// The second return value is false when s fails its checksum or has
// neither shape.
func Normalize13(s string) (string, bool) {
	s = Clean(s)
	switch {
	case IsValidISBN13(s):
		return s, true
	case IsValidISBN10(s):
		if out, err := ToISBN13(s); err == nil {
			return out, true
		}
	}
	return "", false
}

// shape13 is Normalize13 without checksum validation.
func shape13(s string) (string, bool) {
	s = Clean(s)
	switch len(s) {
	case 13:
		if allDigits(s) {
			return s, true
		}
	case 10:
		if out, err := ToISBN13(s); err == nil {
			return out, true
		}
	}
	return "", false
}

// ExtractUniqueISBNs normalizes every value to ISBN-13 and returns the
// distinct results in first-seen order. Values with the wrong length after
// cleaning are skipped; provider data is trusted on checksums.
func ExtractUniqueISBNs(values ...string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n, ok := shape13(v)
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func isCheck10(c byte) bool {
	return c == 'X' || (c >= '0' && c <= '9')
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
