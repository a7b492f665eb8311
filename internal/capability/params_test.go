package capability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

func textValue(name, text string) models.ParamValue {
	return models.ParamValue{Name: name, ValueText: &text}
}

func jsonValue(name, raw string) models.ParamValue {
	return models.ParamValue{Name: name, ValueJSON: json.RawMessage(raw)}
}

func TestResolveParams_TextCoercion(t *testing.T) {
	specs := []ParamSpec{
		{Name: "login", Type: ParamString, Required: true},
		{Name: "count", Type: ParamInt, Required: true},
		{Name: "loud", Type: ParamBool, Required: true},
	}
	values := []models.ParamValue{
		textValue("login", "streamer"),
		textValue("count", "42"),
		textValue("loud", "true"),
	}

	resolved, err := ResolveParams(specs, values)
	require.NoError(t, err)
	assert.Equal(t, "streamer", resolved["login"])
	assert.Equal(t, 42, resolved["count"])
	assert.Equal(t, true, resolved["loud"])
}

func TestResolveParams_JSONWinsOverText(t *testing.T) {
	specs := []ParamSpec{{Name: "login", Type: ParamString, Required: true}}
	text := "from-text"
	values := []models.ParamValue{{
		Name:      "login",
		ValueText: &text,
		ValueJSON: json.RawMessage(`"from-json"`),
	}}

	resolved, err := ResolveParams(specs, values)
	require.NoError(t, err)
	assert.Equal(t, "from-json", resolved["login"])
}

func TestResolveParams_UnknownNameRejected(t *testing.T) {
	specs := []ParamSpec{{Name: "login", Type: ParamString, Required: true}}
	values := []models.ParamValue{
		textValue("login", "x"),
		textValue("bogus", "y"),
	}

	_, err := ResolveParams(specs, values)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
	assert.Contains(t, err.Error(), "bogus")
}

func TestResolveParams_MissingRequired(t *testing.T) {
	specs := []ParamSpec{{Name: "login", Type: ParamString, Required: true}}

	_, err := ResolveParams(specs, nil)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
}

func TestResolveParams_DefaultApplied(t *testing.T) {
	specs := []ParamSpec{{Name: "limit", Type: ParamInt, Required: true, Default: 10}}

	resolved, err := ResolveParams(specs, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, resolved["limit"])
}

func TestResolveParams_JSONTypeMismatch(t *testing.T) {
	specs := []ParamSpec{{Name: "count", Type: ParamInt, Required: true}}
	values := []models.ParamValue{jsonValue("count", `"not a number"`)}

	_, err := ResolveParams(specs, values)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
}

func TestResolveParams_JSONParamNeedsStructuredValue(t *testing.T) {
	specs := []ParamSpec{{Name: "payload", Type: ParamJSON, Required: true}}

	_, err := ResolveParams(specs, []models.ParamValue{textValue("payload", "{}")})
	require.Error(t, err)

	resolved, err := ResolveParams(specs, []models.ParamValue{jsonValue("payload", `{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, resolved["payload"])
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("twitch.stream_online")
	require.NoError(t, err)
	assert.Equal(t, "twitch", key.Provider)
	assert.Equal(t, "stream_online", key.Name)
	assert.Equal(t, "twitch.stream_online", key.String())

	_, err = ParseKey("noseparator")
	assert.Error(t, err)
	_, err = ParseKey(".leading")
	assert.Error(t, err)
}
