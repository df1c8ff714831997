// Package flow: script selection over the prompt catalog.
package flow

import (
	"log/slog"

	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/store"
)

// apologyScript is the built-in script used when the catalog has neither the
// requested key nor a general script. Resolve never fails past this point.
var apologyScript = models.Script{
	Key:  "builtin_apology",
	Body: "I'm sorry, I don't have the right questions prepared for this visit. Please describe your concern in your own words and the doctor will review it before your appointment.",
}

// Selector resolves a category key to a question script.
type Selector struct {
	store store.Store
}

// NewSelector creates a Selector over the prompt catalog.
func NewSelector(st store.Store) *Selector {
	return &Selector{store: st}
}

// Resolve looks up key in the catalog, retries with the general key on a
// miss, and returns the built-in apology script when both are absent. Store
// errors are recovered the same way; Resolve never raises to its caller.
func (s *Selector) Resolve(key models.CategoryKey) models.Script {
	if sc := s.lookup(key); sc != nil {
		return *sc
	}
	slog.Warn("Selector.Resolve: script unavailable, retrying with general", "key", key)
	if sc := s.lookup(models.CategoryGeneral); sc != nil {
		return *sc
	}
	slog.Warn("Selector.Resolve: general script unavailable, using built-in apology", "key", key)
	return apologyScript
}

// lookup fetches one script, treating store errors as misses.
func (s *Selector) lookup(key models.CategoryKey) *models.Script {
	sc, err := s.store.GetScript(key)
	if err != nil {
		slog.Error("Selector.lookup: catalog lookup failed", "error", err, "key", key)
		return nil
	}
	return sc
}
