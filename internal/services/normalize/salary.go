package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/laboro/internal/models"
)

// Salary holds the figures parsed out of a free-text salary string.
type Salary struct {
	Min      *float64
	Max      *float64
	Currency string // ISO-4217 where detectable
	Period   models.SalaryPeriod
}

// currencyTokens maps surface markers onto ISO-4217 codes. Prefixed symbols
// ("US$", "A$") must come before the bare "$" so the more specific marker
// wins.
var currencyTokens = []struct {
	token string
	code  string
}{
	{"us$", "USD"},
	{"usd", "USD"},
	{"a$", "AUD"},
	{"au$", "AUD"},
	{"aud", "AUD"},
	{"c$", "CAD"},
	{"ca$", "CAD"},
	{"cad", "CAD"},
	{"nz$", "NZD"},
	{"nzd", "NZD"},
	{"s$", "SGD"},
	{"sgd", "SGD"},
	{"$", "USD"},
	{"£", "GBP"},
	{"gbp", "GBP"},
	{"€", "EUR"},
	{"eur", "EUR"},
	{"₹", "INR"},
	{"inr", "INR"},
	{"rs.", "INR"},
	{"rupees", "INR"},
	{"¥", "JPY"},
	{"jpy", "JPY"},
	{"chf", "CHF"},
	{"sek", "SEK"},
	{"pln", "PLN"},
	{"zar", "ZAR"},
	{"brl", "BRL"},
}

// periodTokens maps pay-period phrasings onto the canonical enum. Longer
// phrases sit first so "per annum" is not shadowed by a shorter token.
var periodTokens = []struct {
	token  string
	period models.SalaryPeriod
}{
	{"per annum", models.SalaryPeriodYearly},
	{"per year", models.SalaryPeriodYearly},
	{"a year", models.SalaryPeriodYearly},
	{"/year", models.SalaryPeriodYearly},
	{"/yr", models.SalaryPeriodYearly},
	{"p.a.", models.SalaryPeriodYearly},
	{"annually", models.SalaryPeriodYearly},
	{"annual", models.SalaryPeriodYearly},
	{"yearly", models.SalaryPeriodYearly},
	{"per month", models.SalaryPeriodMonthly},
	{"a month", models.SalaryPeriodMonthly},
	{"/month", models.SalaryPeriodMonthly},
	{"/mo", models.SalaryPeriodMonthly},
	{"monthly", models.SalaryPeriodMonthly},
	{"per week", models.SalaryPeriodWeekly},
	{"a week", models.SalaryPeriodWeekly},
	{"/week", models.SalaryPeriodWeekly},
	{"/wk", models.SalaryPeriodWeekly},
	{"weekly", models.SalaryPeriodWeekly},
	{"per diem", models.SalaryPeriodDaily},
	{"per day", models.SalaryPeriodDaily},
	{"a day", models.SalaryPeriodDaily},
	{"/day", models.SalaryPeriodDaily},
	{"daily", models.SalaryPeriodDaily},
	{"per hour", models.SalaryPeriodHourly},
	{"an hour", models.SalaryPeriodHourly},
	{"/hour", models.SalaryPeriodHourly},
	{"/hr", models.SalaryPeriodHourly},
	{"hourly", models.SalaryPeriodHourly},
}

// amountPattern captures a numeric token plus an optional scale suffix.
// Commas are treated as thousands separators.
var amountPattern = regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*(k|m|lakh|lakhs|lac|lacs|lpa|crore|crores)?\b`)

var scaleSuffixes = map[string]float64{
	"k":      1e3,
	"m":      1e6,
	"lakh":   1e5,
	"lakhs":  1e5,
	"lac":    1e5,
	"lacs":   1e5,
	"lpa":    1e5,
	"crore":  1e7,
	"crores": 1e7,
}

// ParseSalary extracts min/max figures, currency and pay period from raw
// salary text. Unrecognized text yields a zero Salary; a single figure fills
// both min and max.
func ParseSalary(text string) Salary {
	var out Salary
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return out
	}

	for _, c := range currencyTokens {
		if strings.Contains(lower, c.token) {
			out.Currency = c.code
			break
		}
	}
	for _, p := range periodTokens {
		if strings.Contains(lower, p.token) {
			out.Period = p.period
			break
		}
	}
	// "LPA" is lakhs per annum, an Indian-market convention.
	if strings.Contains(lower, "lpa") {
		out.Period = models.SalaryPeriodYearly
		if out.Currency == "" {
			out.Currency = "INR"
		}
	}

	type amount struct {
		value float64
		scale float64
	}
	var amounts []amount
	for _, m := range amountPattern.FindAllStringSubmatchIndex(lower, -1) {
		// Percentages are bonus talk, not pay figures.
		if m[1] < len(lower) && lower[m[1]] == '%' {
			continue
		}
		numText := strings.ReplaceAll(lower[m[2]:m[3]], ",", "")
		value, err := strconv.ParseFloat(numText, 64)
		if err != nil {
			continue
		}
		scale := 1.0
		if m[4] >= 0 {
			if s, ok := scaleSuffixes[lower[m[4]:m[5]]]; ok {
				scale = s
			}
		}
		amounts = append(amounts, amount{value: value, scale: scale})
		if len(amounts) == 2 {
			break
		}
	}
	if len(amounts) == 0 {
		return out
	}

	// Shared-suffix ranges ("$80-120k") scale the unsuffixed low end too,
	// but only when it is small enough to be plainly unscaled.
	if len(amounts) == 2 && amounts[0].scale == 1 && amounts[1].scale > 1 && amounts[0].value < 1000 {
		amounts[0].scale = amounts[1].scale
	}

	min := amounts[0].value * amounts[0].scale
	max := min
	if len(amounts) == 2 {
		max = amounts[1].value * amounts[1].scale
	}
	if max < min {
		min, max = max, min
	}
	out.Min = &min
	out.Max = &max
	return out
}
