// Package rut handles Chilean RUT identifiers as stored in the client cache.
package rut

import (
	"strings"
)

// Normalize keeps digits only and strips leading zeros, so "01.234.567-8"
// becomes "12345678". A check digit K is dropped with the other non-digits.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			if b.Len() == 0 && r == '0' {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether raw carries a correct modulo-11 check digit. Dots,
// dashes and spaces are ignored; the check digit may be K.
func Valid(raw string) bool {
	var body []byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			body = append(body, c)
		case c == 'k' || c == 'K':
			body = append(body, 'K')
		case c == '.' || c == '-' || c == ' ':
		default:
			return false
		}
	}
	if len(body) < 2 {
		return false
	}

	dv := body[len(body)-1]
	digits := body[:len(body)-1]
	for _, c := range digits {
		if c == 'K' {
			return false
		}
	}

	return CheckDigit(string(digits)) == dv
}

// CheckDigit computes the modulo-11 check digit for the numeric body of a RUT.
func CheckDigit(body string) byte {
	sum, factor := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch rest := 11 - sum%11; rest {
	case 11:
		return '0'
	case 10:
		return 'K'
	default:
		return byte('0' + rest)
	}
}
