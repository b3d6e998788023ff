package messages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

type fakePool struct {
	byCategory map[classifier.MessageCategory][]Message
}

func (f *fakePool) ListByCategory(_ context.Context, category classifier.MessageCategory) ([]Message, error) {
	return f.byCategory[category], nil
}

func newFakePool(category classifier.MessageCategory, texts ...string) *fakePool {
	msgs := make([]Message, 0, len(texts))
	for i, t := range texts {
		msgs = append(msgs, Message{ID: int64(i + 1), Category: category, Text: t})
	}
	return &fakePool{byCategory: map[classifier.MessageCategory][]Message{category: msgs}}
}

func TestPickUniqueNeverRepeats(t *testing.T) {
	pool := newFakePool(classifier.MessageDefault, "see you soon name", "name, your visit is coming up", "reminder for name")
	catalog := NewCatalog(pool)

	used := map[string]struct{}{}
	seen := map[string]struct{}{}
	for i := 0; i < 3; i++ {
		text, err := catalog.PickUnique(context.Background(), classifier.MessageDefault, "Salem", used)
		require.NoError(t, err)
		_, dup := seen[text]
		assert.False(t, dup, "text %q picked twice", text)
		assert.NotContains(t, text, NameToken)
		seen[text] = struct{}{}
	}

	_, err := catalog.PickUnique(context.Background(), classifier.MessageDefault, "Salem", used)
	assert.True(t, errors.Is(err, ErrExhaustedPool))
}

func TestPickUniqueEmptyCategory(t *testing.T) {
	catalog := NewCatalog(&fakePool{byCategory: map[classifier.MessageCategory][]Message{}})

	_, err := catalog.PickUnique(context.Background(), classifier.MessagePositive, "Salem", map[string]struct{}{})
	assert.True(t, errors.Is(err, ErrEmptyCategory))
}

// The used-set holds rendered texts, exactly what sent reminder rows store,
// so a set rebuilt from the rows keeps excluding delivered templates.
func TestPickUniqueMatchesStoredRenderedTexts(t *testing.T) {
	pool := newFakePool(classifier.MessageReEngagement, "we miss you name", "name, come back soon")
	catalog := NewCatalog(pool)

	used := map[string]struct{}{}
	first, err := catalog.PickUnique(context.Background(), classifier.MessageReEngagement, "Noura", used)
	require.NoError(t, err)
	_, recorded := used[first]
	assert.True(t, recorded)

	rebuilt := map[string]struct{}{first: {}}
	second, err := catalog.PickUnique(context.Background(), classifier.MessageReEngagement, "Noura", rebuilt)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRender(t *testing.T) {
	cases := []struct {
		text string
		who  string
		want string
	}{
		{"see you soon name", "Salem", "see you soon Salem"},
		{"name, name!", "Noura", "Noura, Noura!"},
		{"no token here", "Salem", "no token here"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Render(tc.text, tc.who))
	}
}
