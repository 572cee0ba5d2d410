// Package timetable contains the core domain types for the substitution-plan
// notification service.
package timetable

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Weekdays are the five pages the school publishes, in scan order.
var Weekdays = []string{"Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag"}

// Row is a single timetable entry for one class on one weekday page.
// Rows are ephemeral; only their notification fingerprints are persisted.
type Row struct {
	Weekday    string
	Date       string // schedule date as printed on the page, not the fetch time
	Class      string
	Hour       string
	Subject    string
	Teacher    string
	Room       string
	Info       string
	Occurrence int // index among this class's rows on the page, in scan order
}

// Caption formats the notification text for a row. The exact layout is load
// bearing: the rendered caption is part of the notification fingerprint, so
// changing it invalidates all delivered-state bookkeeping.
func (r *Row) Caption() string {
	return fmt.Sprintf(
		"📅 %s (%s)\nKlasse: %s\nStunde: %s | Fach: %s\nLehrer: %s | Raum: %s\nInfo: %s",
		r.Weekday, r.Date, r.Class, r.Hour, r.Subject, r.Teacher, r.Room, r.Info,
	)
}

// IsChange reports whether the row describes a cancelled or moved lesson
// rather than a routine entry. The page marks these either in the free-text
// info column or with a placeholder subject.
func (r *Row) IsChange() bool {
	info := strings.ToLower(r.Info)
	if info != "" && (strings.Contains(info, "fällt aus") ||
		strings.Contains(info, "verlegt") || strings.Contains(info, "verschoben")) {
		return true
	}
	subject := strings.TrimSpace(r.Subject)
	return subject == "" || strings.Contains(subject, "--")
}

// DayPlan is one parsed weekday page.
type DayPlan struct {
	Weekday string
	Date    string
	Rows    []Row
}

// ForClass returns the rows for a class in scan order, with Occurrence set.
// A class may appear several times on one page; each occurrence is an
// independent notification.
func (p *DayPlan) ForClass(class string) []Row {
	var rows []Row
	for _, row := range p.Rows {
		if row.Class != class {
			continue
		}
		row.Occurrence = len(rows)
		rows = append(rows, row)
	}
	return rows
}

// Subscriber is one recipient's subscription record: the classes they follow
// and their reset version. Bumping the version changes every notification
// fingerprint for this recipient, which is what makes /reset replay current
// changes without touching anyone else's delivered state.
type Subscriber struct {
	ID      string
	Classes []string
	Version int
}

// DayState is the persisted scrape state for one weekday.
type DayState struct {
	ContentFingerprint string          `json:"html_hash"`
	ScheduleDate       string          `json:"last_date"`
	Delivered          map[string]bool `json:"sent_messages"`
}

// NewDayState returns an empty state for a weekday seen for the first time.
func NewDayState() *DayState {
	return &DayState{Delivered: make(map[string]bool)}
}

// Fingerprint returns the SHA-256 hex digest of content. It is used both for
// page-content change detection and for per-notification de-duplication.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NotificationFingerprint derives the de-duplication key for one notification.
// The reset version is salted in so that a user reset invalidates exactly that
// user's delivered state and nothing else.
func NotificationFingerprint(recipientID string, row *Row, caption string, version int) string {
	id := fmt.Sprintf("%s_%s_%d_%s_v%d", recipientID, row.Class, row.Occurrence, caption, version)
	return Fingerprint([]byte(id))
}
