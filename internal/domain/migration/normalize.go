package migration

import (
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const phoneKeyDigits = 10

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips every non-digit and keeps the last ten digits, so
// country codes and punctuation do not affect matching.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > phoneKeyDigits {
		digits = digits[len(digits)-phoneKeyDigits:]
	}
	return digits
}

// NormalizeAddress builds the comparable form of a street address. An
// address without a street is not specific enough to match on.
func NormalizeAddress(street, city, state, zip string) string {
	if foldText(street) == "" {
		return ""
	}
	return foldText(strings.Join([]string{street, city, state, NormalizeZip(zip)}, " "))
}

func NormalizeName(name string) string {
	return foldText(name)
}

// NormalizeZip keeps the five digit ZIP; ZIP+4 suffixes are dropped.
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexAny(zip, "- "); i > 0 {
		zip = zip[:i]
	}
	return strings.ToLower(zip)
}

// FormatE164 returns the E.164 form of phone, or "" when it does not parse
// as a valid number for region.
func FormatE164(phone, region string) string {
	if strings.TrimSpace(phone) == "" {
		return ""
	}
	num, err := libphonenumber.Parse(phone, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return ""
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

// foldText lowercases, removes diacritics and punctuation and collapses
// whitespace.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
