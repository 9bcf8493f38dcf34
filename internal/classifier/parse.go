package classifier

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/cartvision/internal/vision"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// ParseResponse applies the strict schema check to raw classifier output.
//
// Accepted shapes are an object with an "items" array or a bare array.
// Each item needs a non-empty string "label", a four-number "box_2d" in
// [top, left, bottom, right] order and a numeric "confidence" in [0, 1];
// "brand" and "color" are optional strings. Markdown code fences around the
// JSON are tolerated. Box geometry is not judged here: degenerate boxes are
// a filtering concern, not a schema violation.
func ParseResponse(raw []byte) Result {
	text := stripFences(string(raw))
	if text == "" {
		return invalid("empty response")
	}
	if !gjson.Valid(text) {
		return invalid("response is not valid JSON")
	}

	root := gjson.Parse(text)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		list = root.Get("items")
		if !list.Exists() {
			return invalid(`missing "items"`)
		}
		if !list.IsArray() {
			return invalid(`"items" is not an array`)
		}
	default:
		return invalid("response is neither an object nor an array")
	}

	elems := list.Array()
	if len(elems) == 0 {
		return Result{Kind: Empty}
	}
	items := make([]vision.DetectedItem, 0, len(elems))
	for i, el := range elems {
		item, err := parseItem(el)
		if err != nil {
			return invalid(fmt.Sprintf("item %d: %v", i, err))
		}
		items = append(items, item)
	}
	return Result{Kind: Detected, Items: items}
}

func invalid(reason string) Result {
	return Result{Kind: Invalid, Reason: reason}
}

func parseItem(el gjson.Result) (vision.DetectedItem, error) {
	if !el.IsObject() {
		return vision.DetectedItem{}, fmt.Errorf("not an object")
	}

	label := el.Get("label")
	if label.Type != gjson.String || strings.TrimSpace(label.Str) == "" {
		return vision.DetectedItem{}, fmt.Errorf(`"label" must be a non-empty string`)
	}

	box := el.Get("box_2d")
	if !box.IsArray() {
		return vision.DetectedItem{}, fmt.Errorf(`"box_2d" must be an array`)
	}
	coords := box.Array()
	if len(coords) != 4 {
		return vision.DetectedItem{}, fmt.Errorf(`"box_2d" needs 4 numbers, got %d`, len(coords))
	}
	for _, c := range coords {
		if c.Type != gjson.Number {
			return vision.DetectedItem{}, fmt.Errorf(`"box_2d" must contain only numbers`)
		}
	}

	conf := el.Get("confidence")
	if conf.Type != gjson.Number {
		return vision.DetectedItem{}, fmt.Errorf(`"confidence" must be a number`)
	}
	if conf.Num < 0 || conf.Num > 1 {
		return vision.DetectedItem{}, fmt.Errorf(`"confidence" %v outside [0, 1]`, conf.Num)
	}

	brand, err := optionalString(el, "brand")
	if err != nil {
		return vision.DetectedItem{}, err
	}
	color, err := optionalString(el, "color")
	if err != nil {
		return vision.DetectedItem{}, err
	}

	return vision.DetectedItem{
		Label: strings.TrimSpace(label.Str),
		Box: geometry.Box{
			Top:    coords[0].Num,
			Left:   coords[1].Num,
			Bottom: coords[2].Num,
			Right:  coords[3].Num,
		},
		Confidence: conf.Num,
		Brand:      strings.TrimSpace(brand),
		Color:      strings.TrimSpace(color),
	}, nil
}

// optionalString accepts a missing or null field, or a string.
func optionalString(el gjson.Result, field string) (string, error) {
	v := el.Get(field)
	switch v.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return v.Str, nil
	}
	return "", fmt.Errorf("%q must be a string", field)
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
