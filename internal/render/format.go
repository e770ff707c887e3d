package render

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"nexus/internal/datasource"
	"nexus/internal/domain"
)

// Placeholder is shown for values that are missing.
const Placeholder = "—"

// FormatOptions carries the KPI formatting settings.
type FormatOptions struct {
	Format   domain.ValueFormat
	Locale   string
	Currency string
	Decimals *int
	Prefix   string
	Suffix   string
}

// FormatValue renders a KPI value. Values that do not coerce to a number
// are shown as text. percent takes percentage points (12.5 -> 12.5%).
func FormatValue(v any, o FormatOptions) string {
	if v == nil {
		return Placeholder
	}
	n := datasource.ToNumber(v)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return o.Prefix + datasource.ScalarString(v) + o.Suffix
	}

	tag := language.Make(o.Locale)
	if o.Locale == "" || tag == language.Und {
		tag = language.AmericanEnglish
	}
	p := message.NewPrinter(tag)

	var out string
	switch o.Format {
	case domain.FormatCurrency:
		code := o.Currency
		if code == "" {
			code = "USD"
		}
		unit, err := currency.ParseISO(code)
		if err != nil {
			out = p.Sprint(decimal(n, o.Decimals, 2)) + " " + strings.ToUpper(code)
			break
		}
		out = p.Sprint(currency.Symbol(unit.Amount(n)))
	case domain.FormatPercent:
		out = p.Sprint(decimal(n, o.Decimals, 1)) + "%"
	case domain.FormatCompact:
		out = compact(p, n, o.Decimals)
	default:
		out = p.Sprint(decimal(n, o.Decimals, 2))
	}
	return o.Prefix + out + o.Suffix
}

// decimal formats with exactly *decimals fraction digits when set, otherwise
// with up to maxDefault.
func decimal(n float64, decimals *int, maxDefault int) number.Formatter {
	if decimals != nil {
		d := *decimals
		if d < 0 {
			d = 0
		}
		return number.Decimal(n, number.MinFractionDigits(d), number.MaxFractionDigits(d))
	}
	return number.Decimal(n, number.MaxFractionDigits(maxDefault))
}

func compact(p *message.Printer, n float64, decimals *int) string {
	if math.Abs(n) < 1000 {
		return p.Sprint(decimal(n, decimals, 1))
	}
	digits := 1
	if decimals != nil && *decimals >= 0 {
		digits = *decimals
	}
	v, prefix := humanize.ComputeSI(n)
	s := humanize.FtoaWithDigits(v, digits)
	// SI uses G for giga; dashboards read B for billions.
	if prefix == "G" {
		prefix = "B"
	}
	return s + prefix
}
