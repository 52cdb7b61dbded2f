package fulfillment

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// countryAliases are names the platform sends that CLDR display names do not cover.
var countryAliases = map[string]string{
	"sweden":                   "SE",
	"united states":            "US",
	"united states of america": "US",
	"usa":                      "US",
	"america":                  "US",
	"united kingdom":           "GB",
	"great britain":            "GB",
	"england":                  "GB",
	"uk":                       "GB",
	"norway":                   "NO",
	"denmark":                  "DK",
	"finland":                  "FI",
	"germany":                  "DE",
	"deutschland":              "DE",
	"france":                   "FR",
	"spain":                    "ES",
	"italy":                    "IT",
	"netherlands":              "NL",
	"the netherlands":          "NL",
	"holland":                  "NL",
	"canada":                   "CA",
	"australia":                "AU",
	"japan":                    "JP",
	"singapore":                "SG",
}

var (
	countryNamesOnce sync.Once
	countryNames     map[string]string
)

// foldCountry returns the case-folded lookup key for a country name.
// Casers are stateful, so a fresh one is used per call.
func foldCountry(name string) string {
	return cases.Fold().String(name)
}

// loadCountryNames indexes the English display name of every ISO 3166 country region.
func loadCountryNames() {
	countryNames = make(map[string]string, 300)
	namer := display.English.Regions()
	for a := 'A'; a <= 'Z'; a++ {
		for b := 'A'; b <= 'Z'; b++ {
			code := string([]rune{a, b})
			region, err := language.ParseRegion(code)
			if err != nil || !region.IsCountry() || region.String() != code {
				continue
			}
			if name := namer.Name(region); name != "" {
				countryNames[foldCountry(name)] = code
			}
		}
	}
	for name, code := range countryAliases {
		countryNames[name] = code
	}
}

// NormalizeCountry maps a free-text country name or an ISO 3166 alpha-2 code
// to the canonical uppercase alpha-2 code. It never guesses a default.
func NormalizeCountry(input string) (string, error) {
	trimmed := strings.Join(strings.Fields(input), " ")
	if trimmed == "" {
		return "", &UnrecognizedCountryError{Input: input}
	}

	key := foldCountry(trimmed)
	if code, ok := countryAliases[key]; ok {
		return code, nil
	}

	if len(trimmed) == 2 && isASCIILetters(trimmed) {
		code := strings.ToUpper(trimmed)
		if region, err := language.ParseRegion(code); err == nil && region.IsCountry() && region.String() == code {
			return code, nil
		}
	}

	countryNamesOnce.Do(loadCountryNames)
	if code, ok := countryNames[key]; ok {
		return code, nil
	}
	return "", &UnrecognizedCountryError{Input: input}
}

func isASCIILetters(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
