package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/david/grant-desk/internal/models"
)

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitList turns a bulleted or numbered block into distinct items.
func splitList(block string) []string {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	var out []string
	seen := make(map[string]bool)
	for _, raw := range strings.Split(block, "\n") {
		s := strings.TrimSpace(raw)
		s = strings.TrimLeft(s, " \t-*•–—")
		s = normalizeSpace(stripNumbering(s))
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}

func stripNumbering(s string) string {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) {
		return s
	}
	for i < len(s) {
		switch s[i] {
		case '.', ')', '-', ':', ' ', '\t':
			i++
		default:
			return strings.TrimSpace(s[i:])
		}
	}
	return s
}

var numberRe = regexp.MustCompile(`\d[\d,\.]*`)

// parseAmount reads the funding figure out of text such as "Up to $50,000"
// or "$5,000 - $20,000". Ranges report their lower and upper bound; a single
// figure is the maximum unless the text calls it a minimum.
func parseAmount(text string) (min, max float64) {
	lower := strings.ToLower(text)
	var amounts []float64
	for _, m := range numberRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,")
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			v, err = strconv.ParseFloat(strings.ReplaceAll(m, ".", ""), 64)
		}
		if err == nil && v > 0 {
			amounts = append(amounts, scaleSuffix(lower, m, v))
		}
	}
	switch len(amounts) {
	case 0:
		return 0, 0
	case 1:
		if strings.Contains(lower, "minimum") || strings.Contains(lower, "at least") {
			return amounts[0], 0
		}
		return 0, amounts[0]
	}
	min, max = amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	return min, max
}

// scaleSuffix applies a "k" or "million" written right after the number.
func scaleSuffix(lower, match string, v float64) float64 {
	i := strings.Index(lower, strings.ToLower(match))
	if i < 0 {
		return v
	}
	rest := strings.TrimSpace(lower[i+len(match):])
	switch {
	case strings.HasPrefix(rest, "million"), strings.HasPrefix(rest, "m "), rest == "m":
		return v * 1_000_000
	case strings.HasPrefix(rest, "k ") || rest == "k":
		return v * 1_000
	}
	return v
}

var (
	isoDateRe   = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	ordinalRe   = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	dateLayouts = []string{
		"2 January 2006",
		"02 January 2006",
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"2 Jan 2006",
		"02/01/2006",
		"2/1/2006",
	}
)

// parseDeadline returns the deadline as a models.DateLayout string, or "".
func parseDeadline(text string) string {
	text = normalizeSpace(text)
	if text == "" {
		return ""
	}
	if m := isoDateRe.FindString(text); m != "" {
		return m
	}
	text = ordinalRe.ReplaceAllString(text, "$1")
	for _, cand := range dateCandidates(text) {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, cand); err == nil {
				return t.Format(models.DateLayout)
			}
		}
	}
	return ""
}

// dateCandidates yields the text and its trailing word windows, so labels
// like "Closes: 15 March 2026 5pm AEST" still parse.
func dateCandidates(text string) []string {
	words := strings.Fields(strings.NewReplacer(":", " ", "Closes", "", "Closing", "").Replace(text))
	out := []string{text}
	for size := 4; size >= 1; size-- {
		for i := 0; i+size <= len(words); i++ {
			out = append(out, strings.Join(words[i:i+size], " "))
		}
	}
	return out
}
