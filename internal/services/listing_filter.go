package services

import (
	"regexp"
	"strconv"
	"strings"
)

// gradeProximity is how far (in characters) a grade may sit from its grader
const gradeProximity = 6

// Rejection reasons reported by ListingFilter.Check
const (
	RejectGrader     = "grader"
	RejectGrade      = "grade"
	RejectCardNumber = "card_number"
	RejectSerial     = "serial"
	RejectYear       = "year"
	RejectAutograph  = "autograph"
)

var (
	graderRegex = regexp.MustCompile(`\b(PSA|BGS|BECKETT|SGC|CGC|CSG|HGA|BCCG|BVG|KSA|TAG|GMA)\b`)
	yearRegex   = regexp.MustCompile(`\b(19[0-9]{2}|20[0-9]{2})\b`)

	oneOfOneRegex  = regexp.MustCompile(`\b1\s*/\s*1\b|\b1\s*OF\s*1\b|\b1-OF-1\b|\bONE\s+OF\s+ONE\b`)
	anySerialRegex = regexp.MustCompile(`/\s*\d{1,4}\b`)

	// any "#N", "No. N" or "Card N" marker naming a card number
	numberMarkerRegex = regexp.MustCompile(`(?:#\s*|\bNO\b\.?\s*|\bCARD\s+)[A-Z0-9-]*\d[A-Z0-9-]*`)

	autoRegex    = regexp.MustCompile(`\b(AUTO|AUTOS|AUTOGRAPH|AUTOGRAPHED|SIGNED)\b`)
	nonAutoRegex = regexp.MustCompile(`\bNON[\s-]?AUTO\b|\bNO\s+AUTO\b|\bUNSIGNED\b|\bNOT\s+SIGNED\b`)
)

// ListingFilter is the rule-based pre-filter for marketplace listing titles.
// The relaxed form only checks grader/grade and card number.
type ListingFilter struct {
	target  TargetProfile
	relaxed bool

	serialRegex     *regexp.Regexp
	cardNumberRegex *regexp.Regexp
}

func NewListingFilter(target TargetProfile) *ListingFilter {
	f := &ListingFilter{target: target}
	if target.Serial != "" && target.Serial != "1" {
		f.serialRegex = regexp.MustCompile(`/\s*0*` + regexp.QuoteMeta(target.Serial) + `\b`)
	}
	if target.CardNumber != "" {
		num := regexp.QuoteMeta(strings.TrimLeft(target.CardNumber, "0"))
		if num == "" {
			num = "0"
		}
		f.cardNumberRegex = regexp.MustCompile(`(?:#\s*|\bNO\.?\s*|\bCARD\s+)0*` + num + `\b`)
	}
	return f
}

// NewRelaxedListingFilter builds the fallback predicate
func NewRelaxedListingFilter(target TargetProfile) *ListingFilter {
	f := NewListingFilter(target)
	f.relaxed = true
	return f
}

// Accept reports whether a listing title matches the target card
func (f *ListingFilter) Accept(title string) bool {
	return f.Check(title) == ""
}

// Check returns the first rule a title fails, or "" when it is accepted
func (f *ListingFilter) Check(title string) string {
	upper := strings.ToUpper(title)

	if reason := f.checkGrade(upper); reason != "" {
		return reason
	}
	if !f.checkCardNumber(upper) {
		return RejectCardNumber
	}
	if f.relaxed {
		return ""
	}
	if !f.checkSerial(upper) {
		return RejectSerial
	}
	if !f.checkYear(upper) {
		return RejectYear
	}
	if !f.checkAutograph(upper) {
		return RejectAutograph
	}
	return ""
}

func (f *ListingFilter) checkGrade(upper string) string {
	mentions := graderRegex.FindAllStringSubmatchIndex(upper, -1)

	if !f.target.Graded {
		if len(mentions) > 0 {
			return RejectGrader
		}
		return ""
	}

	var own [][]int
	for _, m := range mentions {
		if normalizeGrader(upper[m[2]:m[3]]) != f.target.Grader {
			return RejectGrader
		}
		own = append(own, m)
	}
	if len(own) == 0 {
		return RejectGrader
	}
	if f.target.Grade == "" {
		return ""
	}

	for _, m := range own {
		if gradeNear(upper, f.target.Grade, m[0], m[1]) {
			return ""
		}
	}
	return RejectGrade
}

// gradeNear looks for grade within gradeProximity characters either side of
// the grader word at [start, end). A grade preceded by '/' is a serial
// denominator and never counts.
func gradeNear(upper, grade string, start, end int) bool {
	for _, idx := range tokenIndexes(upper, grade) {
		var gap int
		if idx >= end {
			gap = idx - end
		} else {
			gap = start - (idx + len(grade))
		}
		if gap < 0 || gap > gradeProximity {
			continue
		}
		if prevNonSpace(upper, idx) == '/' {
			continue
		}
		return true
	}
	return false
}

func (f *ListingFilter) checkCardNumber(upper string) bool {
	if f.target.CardNumber == "" {
		return true
	}
	if f.cardNumberRegex.MatchString(upper) {
		return true
	}
	// an explicit marker for another number outranks a bare match
	if numberMarkerRegex.MatchString(upper) {
		return false
	}

	graders := graderRegex.FindAllStringIndex(upper, -1)
	for _, idx := range tokenIndexes(upper, f.target.CardNumber) {
		end := idx + len(f.target.CardNumber)
		if prevNonSpace(upper, idx) == '/' || nextNonSpace(upper, end) == '/' {
			continue
		}
		if followsGrader(graders, idx) {
			continue
		}
		return true
	}
	return false
}

// followsGrader reports whether idx sits in the grade slot right after a grader word
func followsGrader(graders [][]int, idx int) bool {
	for _, g := range graders {
		if gap := idx - g[1]; gap >= 0 && gap <= gradeProximity {
			return true
		}
	}
	return false
}

func (f *ListingFilter) checkSerial(upper string) bool {
	switch {
	case f.target.Serial == "1":
		return oneOfOneRegex.MatchString(upper)
	case f.target.Serial != "":
		return f.serialRegex.MatchString(upper)
	default:
		return !anySerialRegex.MatchString(upper) && !oneOfOneRegex.MatchString(upper)
	}
}

func (f *ListingFilter) checkYear(upper string) bool {
	if f.target.Year == 0 {
		return true
	}
	m := yearRegex.FindString(upper)
	if m == "" {
		return true
	}
	year, _ := strconv.Atoi(m)
	diff := year - f.target.Year
	return diff >= -1 && diff <= 1
}

func (f *ListingFilter) checkAutograph(upper string) bool {
	hasAuto := autoRegex.MatchString(upper) && !nonAutoRegex.MatchString(upper)
	return hasAuto == f.target.Autograph
}

// tokenIndexes returns every index where token appears as a standalone value:
// not glued to a letter or digit, and not part of a decimal ("9" inside "9.5").
func tokenIndexes(s, token string) []int {
	if token == "" {
		return nil
	}
	var out []int
	for from := 0; ; {
		i := strings.Index(s[from:], token)
		if i < 0 {
			return out
		}
		idx := from + i
		end := idx + len(token)
		from = idx + 1

		if idx > 0 {
			prev := s[idx-1]
			if isAlnum(prev) || (prev == '.' && idx > 1 && isDigit(s[idx-2])) {
				continue
			}
		}
		if end < len(s) {
			next := s[end]
			if isAlnum(next) || (next == '.' && end+1 < len(s) && isDigit(s[end+1])) {
				continue
			}
		}
		out = append(out, idx)
	}
}

func prevNonSpace(s string, idx int) byte {
	for i := idx - 1; i >= 0; i-- {
		if s[i] != ' ' && s[i] != '\t' {
			return s[i]
		}
	}
	return 0
}

func nextNonSpace(s string, idx int) byte {
	for i := idx; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return s[i]
		}
	}
	return 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAlnum(b byte) bool {
	return isDigit(b) || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
