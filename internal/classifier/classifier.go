package classifier

import "strings"

// Category is a patient behavior class derived from attendance history.
type Category string

const (
	CategoryGood     Category = "good"
	CategoryVeryGood Category = "very_good"
	CategoryAtRisk   Category = "at_risk"
)

// MessageCategory keys the reminder template pool.
type MessageCategory string

const (
	MessageDefault      MessageCategory = "default_nudge"
	MessagePositive     MessageCategory = "positive_nudge"
	MessageReEngagement MessageCategory = "re_engagement"
)

// MinEventsForCategory is the attendance history size below which the stored
// category is kept as-is.
const MinEventsForCategory = 3

// Rate returns the attendance percentage in [0, 100].
func Rate(attended, missed int) float64 {
	total := attended + missed
	if total <= 0 {
		return 0
	}
	return 100 * float64(attended) / float64(total)
}

// Classify returns the category implied by the counters. With fewer than
// MinEventsForCategory recorded events the current category is kept, so a
// fresh patient stays Good and an admin override survives until enough
// history accrues.
func Classify(current Category, attended, missed int) Category {
	if attended+missed < MinEventsForCategory {
		if current == "" {
			return CategoryGood
		}
		return current
	}
	rate := Rate(attended, missed)
	switch {
	case rate >= 80:
		return CategoryVeryGood
	case rate >= 60:
		return CategoryGood
	default:
		return CategoryAtRisk
	}
}

// Plan returns the reminder lead hours for a category, furthest first.
func Plan(c Category) []int {
	switch c {
	case CategoryVeryGood:
		return []int{24}
	case CategoryAtRisk:
		return []int{48, 6, 1}
	default:
		return []int{24, 2}
	}
}

// MessageCategoryFor selects the template pool used for a category's nudges.
func MessageCategoryFor(c Category) MessageCategory {
	switch c {
	case CategoryVeryGood:
		return MessagePositive
	case CategoryAtRisk:
		return MessageReEngagement
	default:
		return MessageDefault
	}
}

// ApplyScore returns the score after one attendance event, floored at zero.
func ApplyScore(score int, attended bool) int {
	if attended {
		return score + 10
	}
	score -= 5
	if score < 0 {
		return 0
	}
	return score
}

// ParseLabel maps the admin-facing labels ("Good", "Very Good", "At-Risk")
// onto categories.
func ParseLabel(s string) (Category, bool) {
	switch strings.TrimSpace(s) {
	case "Good":
		return CategoryGood, true
	case "Very Good":
		return CategoryVeryGood, true
	case "At-Risk":
		return CategoryAtRisk, true
	default:
		return "", false
	}
}

// Label returns the admin-facing label for a category.
func (c Category) Label() string {
	switch c {
	case CategoryVeryGood:
		return "Very Good"
	case CategoryAtRisk:
		return "At-Risk"
	default:
		return "Good"
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGood, CategoryVeryGood, CategoryAtRisk:
		return true
	default:
		return false
	}
}
