package provider

import (
	"math/rand/v2"
	"strings"
	"time"
)

// DefaultMessageTemplate is the message sent by client-verified providers
// when no template is configured.
const DefaultMessageTemplate = "Your verification code is: {code}"

const codePlaceholder = "{code}"

// GenerateCode returns a string of exactly length decimal digits, each drawn
// independently and uniformly from 0-9.
//
// The source is math/rand/v2, not crypto/rand: codes are short-lived, the
// keyspace is small regardless of source, and attempts are bounded by the
// transport.
func GenerateCode(length int) string {
	if length < 1 {
		return ""
	}
	digits := make([]byte, length)
	for i := range digits {
		digits[i] = '0' + byte(rand.IntN(10))
	}
	return string(digits)
}

// CalculateExpiry returns the absolute time a code issued at now expires.
func CalculateExpiry(now time.Time, expiresIn time.Duration) time.Time {
	return now.Add(expiresIn)
}

// FormatMessage substitutes the first {code} placeholder in template. Other
// placeholders, and any further {code}, are left verbatim.
func FormatMessage(template, code string) string {
	return strings.Replace(template, codePlaceholder, code, 1)
}
