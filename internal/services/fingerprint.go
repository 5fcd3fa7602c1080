package services

import (
	"fmt"
	"strings"
	"unicode"
)

const fingerprintSeparator = "|"

// FingerprintInput holds the attributes that decide whether two certificates
// are the same card. Certificate numbers are deliberately absent.
type FingerprintInput struct {
	Player     string
	SetName    string
	Year       int
	Grade      string
	CardNumber string
	Variant    string
}

// GenerateFingerprint derives the sales-pooling key for a card. Each
// component is lowercased, stripped of anything but letters and digits
// (runs of other characters become a single '-'), and empty components are
// dropped. Returns ErrInsufficientData when nothing survives normalization.
func GenerateFingerprint(in FingerprintInput) (string, error) {
	year := ""
	if in.Year > 0 {
		year = fmt.Sprintf("%d", in.Year)
	}

	var parts []string
	for _, raw := range []string{in.Player, in.SetName, year, in.Grade, in.CardNumber, in.Variant} {
		if p := normalizeFingerprintPart(raw); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ErrInsufficientData
	}
	return strings.Join(parts, fingerprintSeparator), nil
}

func normalizeFingerprintPart(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
