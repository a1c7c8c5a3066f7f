package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
)

var (
	numberPattern  = regexp.MustCompile(`\d+`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDatePattern  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	weekdayPattern = regexp.MustCompile(`\b(?:next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clockPattern   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	hourPattern    = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	namePattern    = regexp.MustCompile(`\b([A-Z][a-z]+)\s+([A-Z][a-z]+)\b`)
	phonePattern   = regexp.MustCompile(`(?:\+?1[-.\s])?(?:\(\d{3}\)\s?|\d{3}[-.\s])?\d{3}[-.\s]?\d{4}\b`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ExtractSlots pulls every declared slot out of the user text using the
// type-tagged patterns. Dates are normalized relative to now.
func ExtractSlots(text string, slots map[string]domain.SlotType, now time.Time) map[string]any {
	if len(slots) == 0 {
		return nil
	}
	out := make(map[string]any)
	for name, typ := range slots {
		if value, ok := ExtractSlot(typ, text, now); ok {
			out[name] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtractSlot extracts a single typed value from text.
func ExtractSlot(typ domain.SlotType, text string, now time.Time) (any, bool) {
	switch typ {
	case domain.SlotNumber:
		return extractNumber(text)
	case domain.SlotDate:
		return extractDate(text, now)
	case domain.SlotTime:
		return extractTime(text)
	case domain.SlotName:
		return extractName(text)
	case domain.SlotPhone:
		return extractPhone(text)
	case domain.SlotString:
		trimmed := strings.TrimSpace(text)
		return trimmed, trimmed != ""
	}
	return nil, false
}

func extractNumber(text string) (any, bool) {
	match := numberPattern.FindString(text)
	if match == "" {
		return nil, false
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

// extractDate normalizes today/tomorrow, ISO dates, US MM/DD/YYYY dates
// and (next) weekday references to ISO YYYY-MM-DD.
func extractDate(text string, now time.Time) (any, bool) {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "tomorrow") {
		return now.AddDate(0, 0, 1).Format("2006-01-02"), true
	}
	if strings.Contains(lower, "today") {
		return now.Format("2006-01-02"), true
	}
	if match := isoDatePattern.FindString(text); match != "" {
		return match, true
	}
	if parts := usDatePattern.FindStringSubmatch(text); parts != nil {
		month, _ := strconv.Atoi(parts[1])
		day, _ := strconv.Atoi(parts[2])
		year, _ := strconv.Atoi(parts[3])
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
	}
	if parts := weekdayPattern.FindStringSubmatch(lower); parts != nil {
		target := weekdays[parts[1]]
		date := now.AddDate(0, 0, 1)
		for date.Weekday() != target {
			date = date.AddDate(0, 0, 1)
		}
		return date.Format("2006-01-02"), true
	}
	return nil, false
}

// extractTime normalizes HH:MM (am|pm)? and H (am|pm) to 24-hour HH:MM.
func extractTime(text string) (any, bool) {
	lower := strings.ToLower(text)

	if parts := clockPattern.FindStringSubmatch(lower); parts != nil {
		hour, _ := strconv.Atoi(parts[1])
		minute, _ := strconv.Atoi(parts[2])
		return formatClock(hour, minute, parts[3]), true
	}
	if parts := hourPattern.FindStringSubmatch(lower); parts != nil {
		hour, _ := strconv.Atoi(parts[1])
		return formatClock(hour, 0, parts[2]), true
	}
	return nil, false
}

func formatClock(hour, minute int, meridiem string) string {
	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// extractName returns the first capitalized bigram.
func extractName(text string) (any, bool) {
	parts := namePattern.FindStringSubmatch(text)
	if parts == nil {
		return nil, false
	}
	return parts[1] + " " + parts[2], true
}

// extractPhone matches common North-American formats, preserving the
// digits and separators as written.
func extractPhone(text string) (any, bool) {
	match := phonePattern.FindString(text)
	if match == "" {
		return nil, false
	}
	return strings.TrimSpace(match), true
}
