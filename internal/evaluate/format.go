package evaluate

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatDollars renders v as whole US dollars with thousands separators,
// e.g. -$1,234,568.
func FormatDollars(v float64) string {
	r := math.Round(v)
	if r == 0 {
		return "$0"
	}
	if r < 0 {
		return printer.Sprintf("-$%.0f", -r)
	}
	return printer.Sprintf("$%.0f", r)
}
