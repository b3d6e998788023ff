// Package messages holds the reminder template pool and the catalog that
// picks templates with uniqueness scoped to a single appointment.
package messages

import (
	"errors"
	"strings"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// Message is one reminder template. Text may contain the literal token
// "name", replaced with the patient's name at render time.
type Message struct {
	ID       int64                      `json:"id"`
	Category classifier.MessageCategory `json:"category"`
	Text     string                     `json:"text"`
}

// ErrEmptyCategory is returned when a category has no templates at all.
var ErrEmptyCategory = errors.New("messages: category pool is empty")

// ErrExhaustedPool is returned when every template in the category has
// already been used for the appointment. The caller decides whether to reset
// the used-set or skip delivery.
var ErrExhaustedPool = errors.New("messages: category pool exhausted")

// NameToken is the placeholder substituted with the patient's name.
const NameToken = "name"

// Render replaces every literal name token in text with the given name.
func Render(text, name string) string {
	return strings.ReplaceAll(text, NameToken, name)
}
