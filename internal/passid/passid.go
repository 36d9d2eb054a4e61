// Package passid holds the pure functions that derive and normalize the
// identifiers printed on a pass: registration ids, QR payloads, emails and
// phone numbers.
package passid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SerialWidth is the zero-padded width of the numeric part of a regId.
const SerialWidth = 6

var (
	ErrMalformedRegID = errors.New("malformed registration id")

	phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// FormatRegID returns prefix + "-" + serial zero-padded to SerialWidth digits.
func FormatRegID(prefix string, serial int) string {
	return fmt.Sprintf("%s-%0*d", prefix, SerialWidth, serial)
}

// ParseRegID splits a regId into its prefix and serial. It accepts exactly
// the ids FormatRegID produces for serials >= 1.
func ParseRegID(regID string) (prefix string, serial int, err error) {
	i := strings.LastIndexByte(regID, '-')
	if i <= 0 || i == len(regID)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedRegID, regID)
	}
	digits := regID[i+1:]
	if len(digits) < SerialWidth {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedRegID, regID)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, fmt.Errorf("%w: %q", ErrMalformedRegID, regID)
		}
	}
	serial, err = strconv.Atoi(digits)
	if err != nil || serial < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedRegID, regID)
	}
	// Extra leading zeros ("X-0000001") would name a second id for the
	// same serial.
	if FormatRegID(regID[:i], serial) != regID {
		return "", 0, fmt.Errorf("%w: %q is not canonical", ErrMalformedRegID, regID)
	}
	return regID[:i], serial, nil
}

// EventCode is the first dash-separated segment of a regId ("PZ26" for
// "PZ26-OCP-000231").
func EventCode(regID string) string {
	code, _, _ := strings.Cut(regID, "-")
	return code
}

// DeriveQRText builds the QR payload EVENTCODE|regId|email.
func DeriveQRText(regID, email string) string {
	return EventCode(regID) + "|" + regID + "|" + NormalizeEmail(email)
}

// NormalizeEmail trims and lower-cases an address. It is idempotent.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips common separators and reports whether what is left
// is digits with an optional leading '+'.
func NormalizePhone(phone string) (string, bool) {
	p := phoneNoise.Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(p) {
		return p, false
	}
	return p, true
}
