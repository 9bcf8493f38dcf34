package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

func TestParseResponse_Detected(t *testing.T) {
	raw := `{"items":[
		{"label":"Coca-Cola can","box_2d":[100,100,300,300],"confidence":0.91,"brand":"Coca-Cola","color":"red"},
		{"label":" water ","box_2d":[0,0,10,10],"confidence":1}
	]}`
	res := ParseResponse([]byte(raw))
	require.Equal(t, Detected, res.Kind, res.Reason)
	require.Len(t, res.Items, 2)

	assert.Equal(t, "Coca-Cola can", res.Items[0].Label)
	assert.Equal(t, geometry.Box{Top: 100, Left: 100, Bottom: 300, Right: 300}, res.Items[0].Box)
	assert.Equal(t, 0.91, res.Items[0].Confidence)
	assert.Equal(t, "Coca-Cola", res.Items[0].Brand)
	assert.Equal(t, "red", res.Items[0].Color)
	assert.Equal(t, "water", res.Items[1].Label)
	assert.Empty(t, res.Items[1].Brand)
}

func TestParseResponse_BareArrayAndFences(t *testing.T) {
	raw := "```json\n[{\"label\":\"chips\",\"box_2d\":[1,2,3,4],\"confidence\":0.5}]\n```"
	res := ParseResponse([]byte(raw))
	require.Equal(t, Detected, res.Kind, res.Reason)
	assert.Equal(t, "chips", res.Items[0].Label)
}

func TestParseResponse_Empty(t *testing.T) {
	for _, raw := range []string{`{"items":[]}`, `[]`, "```\n[]\n```"} {
		res := ParseResponse([]byte(raw))
		assert.Equal(t, Empty, res.Kind, raw)
		assert.Empty(t, res.Items)
	}
}

func TestParseResponse_DegenerateBoxIsNotASchemaError(t *testing.T) {
	res := ParseResponse([]byte(`[{"label":"x","box_2d":[300,300,100,100],"confidence":0.5}]`))
	require.Equal(t, Detected, res.Kind)
	assert.False(t, res.Items[0].Box.Valid())
}

func TestParseResponse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"not json", `the cart contains a coke`},
		{"truncated", `{"items":[{"label":"x"`},
		{"scalar", `42`},
		{"missing items", `{"objects":[]}`},
		{"items not array", `{"items":{"label":"x"}}`},
		{"item not object", `["coke"]`},
		{"missing label", `[{"box_2d":[0,0,1,1],"confidence":0.5}]`},
		{"blank label", `[{"label":"  ","box_2d":[0,0,1,1],"confidence":0.5}]`},
		{"numeric label", `[{"label":7,"box_2d":[0,0,1,1],"confidence":0.5}]`},
		{"short box", `[{"label":"x","box_2d":[0,0,1],"confidence":0.5}]`},
		{"string box", `[{"label":"x","box_2d":"0,0,1,1","confidence":0.5}]`},
		{"string coord", `[{"label":"x","box_2d":[0,"0",1,1],"confidence":0.5}]`},
		{"missing confidence", `[{"label":"x","box_2d":[0,0,1,1]}]`},
		{"string confidence", `[{"label":"x","box_2d":[0,0,1,1],"confidence":"0.5"}]`},
		{"confidence too high", `[{"label":"x","box_2d":[0,0,1,1],"confidence":1.2}]`},
		{"negative confidence", `[{"label":"x","box_2d":[0,0,1,1],"confidence":-0.1}]`},
		{"numeric brand", `[{"label":"x","box_2d":[0,0,1,1],"confidence":0.5,"brand":3}]`},
		{"one bad item spoils the frame", `[{"label":"x","box_2d":[0,0,1,1],"confidence":0.5},{"label":"y"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseResponse([]byte(tt.raw))
			assert.Equal(t, Invalid, res.Kind)
			assert.NotEmpty(t, res.Reason)
			assert.Empty(t, res.Items)
		})
	}
}

func TestParseResponse_NullOptionalFields(t *testing.T) {
	res := ParseResponse([]byte(`[{"label":"x","box_2d":[0,0,1,1],"confidence":0.5,"brand":null}]`))
	require.Equal(t, Detected, res.Kind, res.Reason)
	assert.Empty(t, res.Items[0].Brand)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "detected", Detected.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "invalid", Invalid.String())
}
