package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinScore is the score a candidate must exceed to be returned.
const DefaultMinScore = 0.3

// Score contributions.
const (
	scoreExactName    = 1.0
	scoreNameContains = 0.7
	scoreSKU          = 0.6
	scoreBrandExact   = 0.3
	scoreBrandPartial = 0.15
	scoreSynonym      = 0.4
)

// Synonyms maps colloquial or foreign label fragments to the catalog
// wording they stand for.
var Synonyms = map[string]string{
	"coke":     "coca-cola",
	"agua":     "water",
	"refresco": "soda",
	"gaseosa":  "soda",
	"jugo":     "juice",
	"zumo":     "juice",
	"leche":    "milk",
	"cerveza":  "beer",
	"crisps":   "chips",
}

// Match is the resolver's answer for one label.
type Match struct {
	ProductID string
	Name      string
	Score     float64
}

// Resolver scores labels against a catalog snapshot. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	minScore float64
	entries  []Entry
	norm     []normalizedEntry
}

type normalizedEntry struct {
	name     string
	sku      string
	brand    string
	synonyms []string
}

// NewResolver builds a resolver over entries, preserving their order for
// tie-breaks. A non-positive minScore selects DefaultMinScore.
func NewResolver(entries []Entry, minScore float64) *Resolver {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	r := &Resolver{
		minScore: minScore,
		entries:  make([]Entry, len(entries)),
		norm:     make([]normalizedEntry, len(entries)),
	}
	copy(r.entries, entries)
	for i, e := range r.entries {
		ne := normalizedEntry{
			name:  Normalize(e.Name),
			sku:   hyphenate(Normalize(e.SKU)),
			brand: Normalize(e.Brand),
		}
		for _, s := range e.Synonyms {
			if n := Normalize(s); n != "" {
				ne.synonyms = append(ne.synonyms, n)
			}
		}
		r.norm[i] = ne
	}
	return r
}

// Entries returns the catalog snapshot the resolver was built from.
func (r *Resolver) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the catalog size.
func (r *Resolver) Len() int {
	return len(r.entries)
}

// Resolve returns the best catalog match for label and optional brand. The
// second return is false when no candidate clears the minimum score; that
// is an unresolvable label, not an error.
func (r *Resolver) Resolve(label, brand string) (Match, bool) {
	l := Normalize(label)
	if l == "" {
		return Match{}, false
	}
	b := Normalize(brand)

	best := -1
	bestScore := 0.0
	for i := range r.entries {
		s := r.score(l, b, r.norm[i])
		if s <= r.minScore {
			continue
		}
		if best < 0 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{
		ProductID: r.entries[best].ProductID,
		Name:      r.entries[best].Name,
		Score:     bestScore,
	}, true
}

// score expects label and brand already normalised.
func (r *Resolver) score(label, brand string, e normalizedEntry) float64 {
	var s float64

	switch {
	case e.name == "":
	case label == e.name:
		s += scoreExactName
	case strings.Contains(label, e.name) || strings.Contains(e.name, label):
		s += scoreNameContains
	}

	if e.sku != "" && strings.Contains(hyphenate(label), e.sku) {
		s += scoreSKU
	}

	if brand != "" && e.brand != "" {
		switch {
		case brand == e.brand:
			s += scoreBrandExact
		case strings.Contains(brand, e.brand) || strings.Contains(e.brand, brand):
			s += scoreBrandPartial
		}
	}

	if synonymHit(label, e) {
		s += scoreSynonym
	}

	if s > 1.0 {
		s = 1.0
	}
	return s
}

// synonymHit reports whether label contains a synonym of the entry, either
// from the shared table or from the entry itself.
func synonymHit(label string, e normalizedEntry) bool {
	for _, syn := range e.synonyms {
		if strings.Contains(label, syn) {
			return true
		}
	}
	if e.name == "" {
		return false
	}
	for syn, canonical := range Synonyms {
		if strings.Contains(label, syn) && strings.Contains(e.name, canonical) {
			return true
		}
	}
	return false
}

// Normalize folds case, strips diacritics and collapses whitespace so that
// "  Água   Mineral" and "agua mineral" compare equal.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(
		cases.Fold(),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(out), " ")
}

func hyphenate(s string) string {
	return strings.ReplaceAll(s, " ", "-")
}
