// Package testutil provides fixtures shared by package tests: a small
// product catalog, a builder for raw classifier output and HTTP helpers.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/cartvision/internal/catalog"
)

// Catalog returns a fresh copy of the fixture catalog.
func Catalog() catalog.StaticSource {
	return catalog.StaticSource{
		{ProductID: "wtr-500", Name: "Agua Cristal 500ml", SKU: "WTR-500", Brand: "Cristal"},
		{ProductID: "cola-350", Name: "Coca-Cola Lata 350ml", SKU: "COLA-350", Brand: "Coca-Cola"},
		{ProductID: "chips-150", Name: "Papas Chips 150g", SKU: "CHIPS-150", Brand: "Margarita"},
	}
}

// Item is one entry of raw classifier output. Box is [top, left, bottom, right].
type Item struct {
	Label      string    `json:"label"`
	Brand      string    `json:"brand,omitempty"`
	Box        []float64 `json:"box_2d"`
	Confidence float64   `json:"confidence"`
}

// RawFrame encodes items as the classifier's {"items": [...]} response.
func RawFrame(t testing.TB, items ...Item) []byte {
	t.Helper()
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		t.Fatalf("encode raw frame: %v", err)
	}
	return b
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request with an optional body.
func NewTestRequest(method, path string, body []byte) *http.Request {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	return httptest.NewRequest(method, path, r)
}

// DecodeJSON decodes a response body into a T, failing the test on error.
func DecodeJSON[T any](t testing.TB, body io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
