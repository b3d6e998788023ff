package clinic

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettingsStore(t *testing.T) *SettingsStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewSettingsStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestSettingsStoreDefaultsWhenUnset(t *testing.T) {
	store := newTestSettingsStore(t)

	settings, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultClinicName, settings.ClinicName)
	assert.Equal(t, DefaultReminderHeader, settings.ReminderHeader)
	assert.Empty(t, settings.SurveyURL)
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	store := newTestSettingsStore(t)

	saved := Settings{
		ClinicName:     "Al Shifa Family Clinic",
		SurveyURL:      "https://forms.example/visit-feedback",
		ReminderHeader: "clinic reminder for doctor, time",
	}
	require.NoError(t, store.Set(context.Background(), saved))

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{ClinicName: "X"}.Validate())
	assert.Error(t, Settings{ClinicName: "  "}.Validate())
}

func TestRenderHeader(t *testing.T) {
	at := time.Date(2025, 10, 14, 9, 15, 0, 0, time.UTC)

	header := DefaultSettings().RenderHeader("Dr. Sara", at)
	assert.Equal(t, "Al Shifa Clinic: your appointment with Dr. Sara on Tue 14 Oct 2025, 09:15.", header)

	custom := Settings{ClinicName: "North Branch", ReminderHeader: "doctor will see you at time (clinic)"}
	assert.Equal(t, "Dr. Sara will see you at Tue 14 Oct 2025, 09:15 (North Branch)", custom.RenderHeader("Dr. Sara", at))

	// Empty header falls back to the default wording.
	fallback := Settings{ClinicName: "North Branch"}
	assert.Contains(t, fallback.RenderHeader("Dr. Sara", at), "North Branch: your appointment")
}

func TestSurveyLink(t *testing.T) {
	assert.Equal(t, "https://forms.example/f", Settings{SurveyURL: "https://forms.example/f"}.SurveyLink("https://clinic.example"))
	assert.Equal(t, "https://clinic.example/survey", Settings{}.SurveyLink("https://clinic.example/"))
	assert.Empty(t, Settings{}.SurveyLink(""))
}
