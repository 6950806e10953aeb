// Package extract turns the bot's natural-language confirmation message
// into a structured candidate ledger entry. The bot writes five numbered,
// labeled fields in a fixed textual template with decorative markup; each
// field is matched independently so partial output still yields a usable
// candidate.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candidate is a proposed ledger entry extracted from bot output, not yet
// confirmed by the user. Field values are the cleaned template strings;
// Token is the freshly minted single-use confirmation token.
type Candidate struct {
	Detail   string
	Date     string
	Category string
	Kind     string
	Amount   string
	Token    string
}

var (
	dateRe   = fieldRe("날짜")
	amountRe = fieldRe("금액")
	detailRe = fieldRe("사용 내역")
	catRe    = fieldRe("분류")
	kindRe   = fieldRe("거래 유형")

	markupRe  = regexp.MustCompile(`</?strong>`)
	nonDateRe = regexp.MustCompile(`[^0-9-]`)
)

// fieldRe builds the tolerant per-field pattern: an ordinal-numbered label,
// optionally wrapped in <strong>, with the value running to the next line
// break or <br>.
func fieldRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`\d\.\s*(?:<strong>)?` + label + `(?:</strong>)?:?\s*(.*?)(?:\s*<br>|\n|$)`)
}

// Extract parses the bot's confirmation template. It returns false when no
// amount can be found: without an amount there is nothing to confirm and
// the caller must fall back to echoing the raw bot text. A missing date
// defaults to today (in loc); other missing fields default to empty.
func Extract(botText string, now time.Time) (*Candidate, bool) {
	amount := matchField(amountRe, botText)
	if amount == "" {
		return nil, false
	}

	date := matchField(dateRe, botText)
	if date == "" {
		date = now.Format("2006-01-02")
	}

	return &Candidate{
		Detail:   matchField(detailRe, botText),
		Date:     date,
		Category: matchField(catRe, botText),
		Kind:     matchField(kindRe, botText),
		Amount:   amount,
		Token:    uuid.NewString(),
	}, true
}

func matchField(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return StripMarkup(m[1])
}

// StripMarkup removes the decorative markup the bot uses in chat output.
func StripMarkup(s string) string {
	return strings.TrimSpace(markupRe.ReplaceAllString(s, ""))
}

// CleanText converts a full bot message into plain text for a simple-text
// response: line-break tags become newlines and markup is dropped.
func CleanText(s string) string {
	return StripMarkup(strings.ReplaceAll(s, "<br>", "\n"))
}

// CleanAmount strips currency and thousands formatting without parsing,
// for round-tripping an amount through a button payload.
func CleanAmount(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "원", "")
	return strings.TrimSpace(s)
}

// ParseAmount parses a user-facing amount string, stripping currency and
// thousands formatting. Unparseable input yields zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "원", "")
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseDate parses a YYYY-MM-DD date, dropping any characters that are not
// digits or dashes first. Unparseable input yields today (in now's zone).
func ParseDate(s string, now time.Time) time.Time {
	clean := nonDateRe.ReplaceAllString(s, "")
	d, err := time.ParseInLocation("2006-01-02", clean, now.Location())
	if err != nil {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	return d
}
