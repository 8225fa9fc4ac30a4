package extract

import (
	"strings"
	"time"
	"unicode"
)

// Currency markers recognized in raw price text.
var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"EUR": "EUR",
	"USD": "USD",
	"GBP": "GBP",
}

// NormalizePrice parses raw price text like "45 000 €", "1,250.50 EUR",
// or "pērku" into cents and an ISO currency code. Unparseable text
// yields -1 cents and an empty currency.
func NormalizePrice(raw string) (cents int64, currency string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1, ""
	}

	for marker, code := range currencySymbols {
		if strings.Contains(raw, marker) {
			currency = code
			raw = strings.ReplaceAll(raw, marker, "")
			break
		}
	}

	// Strip grouping: regular/non-breaking spaces and thousands commas.
	var cleaned strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			cleaned.WriteRune(r)
		case r == '.' || r == ',':
			cleaned.WriteRune('.')
		case r == ' ' || r == ' ' || r == ' ':
			// grouping, drop
		default:
			// Leading label text is skipped; trailing unit text like
			// "/m2" ends the number.
			if cleaned.Len() > 0 {
				return parseCents(cleaned.String()), currency
			}
		}
	}
	return parseCents(cleaned.String()), currency
}

// parseCents converts a digits-and-dots string to cents. Only the last
// dot is a decimal separator, and only when followed by one or two
// digits; all others are thousands grouping.
func parseCents(s string) int64 {
	if s == "" {
		return -1
	}

	intPart := s
	fracPart := ""
	if i := strings.LastIndex(s, "."); i >= 0 {
		frac := s[i+1:]
		if len(frac) == 1 || len(frac) == 2 {
			intPart, fracPart = s[:i], frac
		}
	}
	intPart = strings.ReplaceAll(intPart, ".", "")
	if intPart == "" && fracPart == "" {
		return -1
	}

	var cents int64
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return -1
		}
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100
	switch len(fracPart) {
	case 1:
		cents += int64(fracPart[0]-'0') * 10
	case 2:
		cents += int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
	}
	return cents
}

// Date layouts seen on listing sites, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"02.01.2006 15:04",
	"02.01.2006.",
	"02.01.2006",
	"2006-01-02 15:04",
	"2006-01-02",
}

// NormalizeDate parses raw posting-date text into UTC. Relative markers
// ("today", "yesterday") resolve against the current date. Unrecognized
// text yields the zero time.
func NormalizeDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	switch strings.ToLower(raw) {
	case "today", "šodien":
		return midnightUTC(time.Now())
	case "yesterday", "vakar":
		return midnightUTC(time.Now().AddDate(0, 0, -1))
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
