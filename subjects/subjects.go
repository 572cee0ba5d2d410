// Package subjects classifies raw timetable text into a human-readable
// subject name and a change kind (cancelled, moved, or neither).
package subjects

import (
	"regexp"
	"strings"
)

// Kind describes what a row's info text says happened to the lesson.
type Kind int

const (
	KindOther Kind = iota
	KindCancelled
	KindMoved
)

// names maps the abbreviations used on the plan to full subject names.
var names = map[string]string{
	"PH":  "Physik",
	"MA":  "Mathe",
	"KU":  "Kunst",
	"EN":  "Englisch",
	"FR":  "Französisch",
	"MU":  "Musik",
	"SPO": "Sport",
	"ETH": "Ethik",
	"DE":  "Deutsch",
	"GE":  "Geschichte",
	"GEO": "Geografie",
	"CH":  "Chemie",
	"INF": "Informatik",
	"GRW": "GRW",
	"BIO": "Bio",
}

var (
	capsToken      = regexp.MustCompile(`\b[A-Z]{2,3}\b`)
	leadingAlpha   = regexp.MustCompile(`^[A-Za-zÄÖÜäöüß]+`)
	anyAlpha       = regexp.MustCompile(`[a-zA-Z]+`)
	trailingDigits = regexp.MustCompile(`\d+$`)
)

// Classify resolves the subject of a row from its free-text info column and
// its nominal subject column. The page is inconsistent about where the
// abbreviation lives, so resolution is tiered and the order matters: a
// cancellation note naming a different subject than the row's own column must
// win, because that note is what the notification is about.
func Classify(info, subjectCol string) (string, Kind) {
	kind := classifyKind(info)

	// Tier 1: a cancellation note usually embeds the abbreviation, e.g.
	// "fällt aus (BIO)". First known all-caps token wins.
	if kind == KindCancelled {
		for _, token := range capsToken.FindAllString(info, -1) {
			if name, ok := names[token]; ok {
				return name, kind
			}
		}
	}

	// Tier 2: the dedicated subject column, unless it is a placeholder.
	if subject := strings.TrimSpace(subjectCol); subject != "" && !strings.Contains(subject, "--") {
		if token := leadingAlpha.FindString(subject); token != "" {
			if name, ok := names[strings.ToUpper(token)]; ok {
				return name, kind
			}
		}
		return subject, kind
	}

	// Tier 3: first word of the info text.
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return "", kind
	}
	raw := fields[0]
	if token := anyAlpha.FindString(raw); token != "" {
		if name, ok := names[strings.ToUpper(token)]; ok {
			return name, kind
		}
		return trailingDigits.ReplaceAllString(raw, ""), kind
	}
	return raw, kind
}

func classifyKind(info string) Kind {
	lower := strings.ToLower(info)
	switch {
	case strings.Contains(lower, "fällt aus"):
		return KindCancelled
	case strings.Contains(lower, "verlegt"), strings.Contains(lower, "verschoben"):
		return KindMoved
	default:
		return KindOther
	}
}
