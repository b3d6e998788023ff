package messages

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// Pool is the template source the catalog draws from.
type Pool interface {
	ListByCategory(ctx context.Context, category classifier.MessageCategory) ([]Message, error)
}

var _ Pool = (*Store)(nil)

// Catalog picks reminder templates uniformly at random, never repeating a
// text already recorded in the caller's used-set. The used-set is scoped to
// one appointment's lifetime, so a patient with three reminders sees three
// different nudges.
type Catalog struct {
	pool Pool
}

// NewCatalog creates a catalog over a template pool.
func NewCatalog(pool Pool) *Catalog {
	return &Catalog{pool: pool}
}

// PickUnique renders a template from the category pool for the given
// recipient and records the choice in used. Uniqueness is checked on the
// rendered form, which lets callers rebuild the used-set from the texts
// stored on an appointment's sent reminders. ErrEmptyCategory when the
// category has no templates; ErrExhaustedPool when used already covers the
// whole pool.
func (c *Catalog) PickUnique(ctx context.Context, category classifier.MessageCategory, name string, used map[string]struct{}) (string, error) {
	all, err := c.pool.ListByCategory(ctx, category)
	if err != nil {
		return "", fmt.Errorf("messages: load pool: %w", err)
	}
	if len(all) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyCategory, category)
	}

	remaining := make([]string, 0, len(all))
	for _, m := range all {
		rendered := Render(m.Text, name)
		if _, taken := used[rendered]; !taken {
			remaining = append(remaining, rendered)
		}
	}
	if len(remaining) == 0 {
		return "", fmt.Errorf("%w: %s", ErrExhaustedPool, category)
	}

	pick := remaining[rand.Intn(len(remaining))]
	if used != nil {
		used[pick] = struct{}{}
	}
	return pick, nil
}
