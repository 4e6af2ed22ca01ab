// Package nlp turns a French search sentence into structured criteria.
package nlp

import (
	"regexp"
	"strconv"
	"strings"
)

// Criteria is what could be extracted from a sentence.
type Criteria struct {
	Text     string
	Location string
	PriceMin *float64
	PriceMax *float64
}

const numberPattern = `(\d+[\s']?\d*)\s*(k)?(?:euros|€)?`

var (
	priceBetweenRe = regexp.MustCompile(`(?i)(?:entre|de)\s+` + numberPattern + `\s*(?:et|à)\s+` + numberPattern)
	priceMaxRe     = regexp.MustCompile(`(?i)(?:moins de|budget max(?:imum)? de?|jusqu'à|pas plus de)\s+` + numberPattern)
	priceMinRe     = regexp.MustCompile(`(?i)(?:plus de|à partir de|minimum de?|min de)\s+` + numberPattern)

	// The capture stops at a comma, the end, or the start of another
	// clause (pour/avec or a price phrase).
	locationRe = regexp.MustCompile(`\s(?:à|sur|vers|près de|dans la ville de)\s+([A-ZÀ-Ý][a-zA-ZÀ-ÿ\s'-]+?)(?:,|$|\s+pour|\s+avec|\s+entre|\s+moins|\s+plus|\s+budget|\s+jusqu)`)

	priceCleanRe  = regexp.MustCompile(`(?i)(entre|plus de|de|moins de|budget max(?:imum)? de?|jusqu'à|pas plus de|à partir de|minimum de?|min de)\s+\d+[\s']?\d*\s*k?(?:euros|€)?(?:\s*(et|à)\s*\d+[\s']?\d*\s*k?(?:euros|€)?)?`)
	fillerRe      = regexp.MustCompile(`(?i)je cherche|je recherche|cherche|je voudrais|j'aimerais trouver|trouve-moi|\b(?:un|une|des)\b`)
	punctuationRe = regexp.MustCompile(`[.,;:!?-]`)
)

// ParseSentence extracts price bounds, a location, and the remaining
// search keywords from a sentence like
// "je cherche une clio 5 à Rennes entre 3000 et 8000 euros".
func ParseSentence(input string) Criteria {
	min, max := parsePrice(input)
	location := parseLocation(input)
	return Criteria{
		Text:     cleanSearchText(input, location),
		Location: location,
		PriceMin: min,
		PriceMax: max,
	}
}

func parsePrice(text string) (*float64, *float64) {
	if m := priceBetweenRe.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1], m[2]), parseAmount(m[3], m[4])
	}
	if m := priceMaxRe.FindStringSubmatch(text); m != nil {
		return nil, parseAmount(m[1], m[2])
	}
	if m := priceMinRe.FindStringSubmatch(text); m != nil {
		return parseAmount(m[1], m[2]), nil
	}
	return nil, nil
}

func parseAmount(digits, suffix string) *float64 {
	digits = strings.NewReplacer("'", "", " ", "", " ", "").Replace(digits)
	value, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	if strings.EqualFold(suffix, "k") {
		value *= 1000
	}
	return &value
}

func parseLocation(text string) string {
	if m := locationRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// cleanSearchText strips the location and price phrases plus
// conversational filler, leaving the core keywords.
func cleanSearchText(text, location string) string {
	core := text
	if location != "" {
		re, err := regexp.Compile(`(?i)\s(?:à|sur|vers|près de|dans la ville de)\s+` + regexp.QuoteMeta(location))
		if err == nil {
			core = re.ReplaceAllString(core, "")
		}
	}
	core = priceCleanRe.ReplaceAllString(core, "")
	core = fillerRe.ReplaceAllString(core, "")
	core = punctuationRe.ReplaceAllString(core, " ")
	return strings.Join(strings.Fields(core), " ")
}
