package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codyseavey/slab-market/internal/models"
)

var (
	// serialInTextRegex finds a print-run denominator such as "/99" in free text
	serialInTextRegex = regexp.MustCompile(`/\s*(\d{1,4})\b`)
	// trailingGradeRegex pulls the numeral out of descriptive grades like "GEM MT 10"
	trailingGradeRegex = regexp.MustCompile(`(\d{1,2}(?:\.\d)?)\s*$`)
	variantTokenRegex  = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// TargetProfile is the parsed description of the card listings are matched against
type TargetProfile struct {
	Year          int
	CardNumber    string
	Graded        bool
	Grader        string // canonical grader code, e.g. "PSA"
	Grade         string // numeral only, e.g. "10" or "9.5"
	Serial        string // print run denominator, "1" for one-of-ones
	VariantTokens []string
	Autograph     bool
}

// NewTargetProfile parses a resolved card into the attributes listings are
// checked against
func NewTargetProfile(card *models.Card) TargetProfile {
	p := TargetProfile{
		Year:       card.Year,
		CardNumber: strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(card.CardNumber), "#")),
		Graded:     card.IsGraded(),
		Serial:     serialFor(card),
		Autograph:  card.IsAutograph,
	}
	if p.Graded {
		p.Grader = normalizeGrader(card.Grader)
		p.Grade = NormalizeGrade(card.Grade)
	}

	variant := serialInTextRegex.ReplaceAllString(card.Variant, " ")
	for _, tok := range variantTokenRegex.FindAllString(variant, -1) {
		if len(tok) > 1 {
			p.VariantTokens = append(p.VariantTokens, strings.ToUpper(tok))
		}
	}
	return p
}

// serialFor returns the print run a card belongs to. Explicit fields win over
// text parsed out of the variant.
func serialFor(card *models.Card) string {
	if card.PrintRun > 0 {
		return strconv.Itoa(card.PrintRun)
	}
	if m := serialInTextRegex.FindStringSubmatch(card.SerialNumber); m != nil {
		return strings.TrimLeft(m[1], "0")
	}
	if m := serialInTextRegex.FindStringSubmatch(card.Variant); m != nil {
		return strings.TrimLeft(m[1], "0")
	}
	return ""
}

// NormalizeGrade reduces a grade label to its numeral: "GEM MT 10" -> "10",
// "9.5" -> "9.5". Labels without a numeral are returned trimmed and uppercased.
func NormalizeGrade(grade string) string {
	grade = strings.TrimSpace(grade)
	if m := trailingGradeRegex.FindStringSubmatch(grade); m != nil {
		return m[1]
	}
	return strings.ToUpper(grade)
}

// BuildSearchTerm composes the primary marketplace query for a card, e.g.
// "2020 Topps Chrome Mike Trout #27 Refractor /99 PSA 10". The serial suffix
// targets the whole print run rather than one numbered copy.
func BuildSearchTerm(card *models.Card) string {
	var parts []string
	if card.Year > 0 {
		parts = append(parts, strconv.Itoa(card.Year))
	}
	parts = append(parts, card.SetName, card.Player)
	if num := strings.TrimPrefix(strings.TrimSpace(card.CardNumber), "#"); num != "" {
		parts = append(parts, "#"+num)
	}
	parts = append(parts, serialInTextRegex.ReplaceAllString(card.Variant, " "))
	if serial := serialFor(card); serial != "" {
		parts = append(parts, "/"+serial)
	}
	if card.IsGraded() {
		parts = append(parts, normalizeGrader(card.Grader), NormalizeGrade(card.Grade))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Description renders the target for the AI re-filter prompt
func (p TargetProfile) Description(card *models.Card) string {
	var b strings.Builder
	b.WriteString(BuildSearchTerm(card))
	if p.Autograph {
		b.WriteString(" (autographed)")
	} else {
		b.WriteString(" (not autographed)")
	}
	if p.Graded {
		b.WriteString("; must be graded ")
		b.WriteString(p.Grader)
		b.WriteString(" ")
		b.WriteString(p.Grade)
	} else {
		b.WriteString("; must be ungraded")
	}
	if p.Serial != "" {
		b.WriteString("; numbered to /")
		b.WriteString(p.Serial)
	}
	if len(p.VariantTokens) > 0 {
		b.WriteString("; variant: ")
		b.WriteString(strings.Join(p.VariantTokens, " "))
	}
	return b.String()
}
