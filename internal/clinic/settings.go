// Package clinic holds the operator-editable clinic profile and the ops
// dashboard. The profile lives in Redis so the front desk can adjust the
// reminder wording without a deploy.
package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// settingsKey is the single Redis key holding the profile.
const settingsKey = "clinic:settings"

// DefaultClinicName is used until the operator sets one.
const DefaultClinicName = "Al Shifa Clinic"

// DefaultReminderHeader is the first line of every nudge. The literal tokens
// clinic, doctor and time are substituted at render time, mirroring the name
// token in message templates.
const DefaultReminderHeader = "clinic: your appointment with doctor on time."

// headerTimeLayout formats the slot time inside the header, already
// localized to the clinic zone.
const headerTimeLayout = "Mon 2 Jan 2006, 15:04"

// Settings is the clinic profile.
type Settings struct {
	ClinicName     string `json:"clinicName"`
	SurveyURL      string `json:"surveyUrl,omitempty"`
	ReminderHeader string `json:"reminderHeader"`
}

// DefaultSettings returns the profile used before the operator saves one.
func DefaultSettings() Settings {
	return Settings{
		ClinicName:     DefaultClinicName,
		ReminderHeader: DefaultReminderHeader,
	}
}

// Validate rejects profiles that would render broken nudges.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ClinicName) == "" {
		return errors.New("clinicName is required")
	}
	return nil
}

// RenderHeader builds the nudge header for one appointment slot.
func (s Settings) RenderHeader(doctor string, startsAt time.Time) string {
	header := s.ReminderHeader
	if header == "" {
		header = DefaultReminderHeader
	}
	return strings.NewReplacer(
		"clinic", s.ClinicName,
		"doctor", doctor,
		"time", startsAt.Format(headerTimeLayout),
	).Replace(header)
}

// SurveyLink resolves the follow-up survey URL, falling back to a path under
// the public base URL when the operator has not set one.
func (s Settings) SurveyLink(publicBaseURL string) string {
	if s.SurveyURL != "" {
		return s.SurveyURL
	}
	if publicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(publicBaseURL, "/") + "/survey"
}

// SettingsStore persists the profile in Redis.
type SettingsStore struct {
	redis *redis.Client
}

func NewSettingsStore(client *redis.Client) *SettingsStore {
	return &SettingsStore{redis: client}
}

// Get retrieves the profile, returning defaults when none is stored.
func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	data, err := s.redis.Get(ctx, settingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("clinic: get settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("clinic: unmarshal settings: %w", err)
	}
	return settings, nil
}

// Set saves the profile.
func (s *SettingsStore) Set(ctx context.Context, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("clinic: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, settingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set settings: %w", err)
	}
	return nil
}
