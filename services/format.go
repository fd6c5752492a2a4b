package services

import (
	"fmt"
	"strconv"

	"formpredict/manifest"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatResult turns a raw prediction into the sentence shown to the user.
func FormatResult(r *manifest.Result, value float64) string {
	if r.Kind == manifest.ResultLabel {
		if text, ok := r.Labels[strconv.FormatFloat(value, 'f', -1, 64)]; ok {
			return text
		}
		return r.Otherwise
	}

	format := fmt.Sprintf("%%.%df", r.DecimalsOrDefault())
	return r.Prefix + printer.Sprintf(format, value*r.ScaleOrDefault()) + r.Suffix
}
