package stations

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// DefaultThreshold is the minimum normalized similarity (0..1) a fuzzy
// candidate must exceed to be accepted.
const DefaultThreshold = 0.80

// defaultCorrections are manually curated aliases for display names the
// source emits that the gazetteer spells differently. Checked before any
// gazetteer lookup.
var defaultCorrections = map[string]string{
	"Letchworth":         "Letchworth Garden City",
	"London Kings Cross": "King's Cross",
}

// Resolver maps display names onto gazetteer stations using a fixed
// priority chain: correction table, exact canonical match, then fuzzy
// similarity above a confidence threshold.
//
// Fuzzy candidates are scanned in lexicographic name order and replaced
// only on a strictly greater score, so score ties resolve to the
// lexicographically first name. Resolution is fully deterministic.
//
// Resolver is not safe for concurrent use; resolution runs in the
// single-threaded merge stage.
type Resolver struct {
	gaz         *Gazetteer
	corrections map[string]string
	threshold   float64
	metric      *metrics.Levenshtein

	unresolved map[string]int
}

// NewResolver builds a resolver over the gazetteer. extraCorrections are
// layered on top of the built-in correction table and win on conflict.
func NewResolver(gaz *Gazetteer, threshold float64, extraCorrections map[string]string) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	corrections := make(map[string]string, len(defaultCorrections)+len(extraCorrections))
	for k, v := range defaultCorrections {
		corrections[k] = v
	}
	for k, v := range extraCorrections {
		corrections[k] = v
	}

	metric := metrics.NewLevenshtein()
	metric.CaseSensitive = false

	return &Resolver{
		gaz:         gaz,
		corrections: corrections,
		threshold:   threshold,
		metric:      metric,
		unresolved:  make(map[string]int),
	}
}

// Resolve maps a display name to a gazetteer station. The second return
// is false when no match clears the confidence threshold; unresolved
// names are counted for later curation, never dropped silently.
func (r *Resolver) Resolve(displayName string) (Station, bool) {
	name := displayName
	if corrected, ok := r.corrections[name]; ok {
		name = corrected
	}

	if s, ok := r.gaz.Lookup(name); ok {
		return s, true
	}

	bestScore := 0.0
	bestName := ""
	for _, candidate := range r.gaz.Names() {
		score := strutil.Similarity(name, candidate, r.metric)
		if score > bestScore {
			bestScore = score
			bestName = candidate
		}
	}
	if bestScore > r.threshold {
		s, _ := r.gaz.Lookup(bestName)
		return s, true
	}

	r.unresolved[displayName]++
	return Station{}, false
}

// UnresolvedCounts returns the number of failed resolutions per distinct
// display name seen so far.
func (r *Resolver) UnresolvedCounts() map[string]int {
	out := make(map[string]int, len(r.unresolved))
	for k, v := range r.unresolved {
		out[k] = v
	}
	return out
}
