package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []Entry {
	return []Entry{
		{ProductID: "p-water", Name: "Water 500ml", SKU: "WTR-500", Brand: "Bonafont"},
		{ProductID: "p-coke", Name: "Coca-Cola Can", SKU: "CC-355", Brand: "Coca-Cola"},
		{ProductID: "p-juice", Name: "Orange Juice", SKU: "OJ-1L", Brand: "Jumex", Synonyms: []string{"naranjada"}},
		{ProductID: "p-juice2", Name: "Orange Juice", SKU: "OJ-2L", Brand: "Del Valle"},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Água", "agua"},
		{"  Coca-Cola   CAN ", "coca-cola can"},
		{"Café Crème", "cafe creme"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(testCatalog(), 0)

	tests := []struct {
		name      string
		label     string
		brand     string
		wantID    string
		wantScore float64
		wantOK    bool
	}{
		{name: "exact name", label: "water 500ml", wantID: "p-water", wantScore: 1.0, wantOK: true},
		{name: "exact name case and accents", label: "WÁTER 500ML", wantID: "p-water", wantScore: 1.0, wantOK: true},
		{name: "substring", label: "water", wantID: "p-water", wantScore: 0.7, wantOK: true},
		{name: "label contains name", label: "cold coca-cola can", wantID: "p-coke", wantScore: 0.7, wantOK: true},
		{name: "sku in label", label: "wtr 500", wantID: "p-water", wantScore: 0.6, wantOK: true},
		{name: "synonym table", label: "coke", wantID: "p-coke", wantScore: 0.4, wantOK: true},
		{name: "accented synonym", label: "água", wantID: "p-water", wantScore: 0.4, wantOK: true},
		{name: "entry synonym", label: "naranjada", wantID: "p-juice", wantScore: 0.4, wantOK: true},
		{name: "capped scores tie to insertion order", label: "orange juice", brand: "Del Valle", wantID: "p-juice", wantScore: 1.0, wantOK: true},
		{name: "tie goes to insertion order", label: "orange juice", wantID: "p-juice", wantScore: 1.0, wantOK: true},
		{name: "substring plus brand", label: "juice", brand: "del valle", wantID: "p-juice2", wantScore: 1.0, wantOK: true},
		{name: "partial brand", label: "juice", brand: "valle", wantID: "p-juice2", wantScore: 0.85, wantOK: true},
		{name: "brand alone is not enough", label: "bottle", brand: "Coca-Cola", wantOK: false},
		{name: "unknown", label: "banana", wantOK: false},
		{name: "empty", label: "   ", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := r.Resolve(tt.label, tt.brand)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantID, m.ProductID)
			assert.InDelta(t, tt.wantScore, m.Score, 1e-9)
		})
	}
}

func TestResolve_ScoreCappedAtOne(t *testing.T) {
	r := NewResolver([]Entry{{ProductID: "p", Name: "coca-cola", SKU: "coca-cola", Brand: "coca-cola"}}, 0)
	m, ok := r.Resolve("coca-cola coke", "coca-cola")
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Score)
}

func TestResolve_ThresholdIsExclusive(t *testing.T) {
	r := NewResolver([]Entry{{ProductID: "p", Name: "Widget"}}, 0.7)
	_, ok := r.Resolve("widget deluxe", "")
	assert.False(t, ok, "a score equal to the threshold is discarded")

	r = NewResolver([]Entry{{ProductID: "p", Name: "Widget"}}, 0.69)
	_, ok = r.Resolve("widget deluxe", "")
	assert.True(t, ok)
}

func TestResolver_EntriesIsACopy(t *testing.T) {
	r := NewResolver(testCatalog(), 0)
	e := r.Entries()
	e[0].Name = "changed"
	assert.Equal(t, "Water 500ml", r.Entries()[0].Name)
	assert.Equal(t, 4, r.Len())
}
