package spotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/engine"
)

func TestPlayTrack_ParamSchema(t *testing.T) {
	specs := NewPlayTrack().Params()
	require.Len(t, specs, 2)

	assert.Equal(t, "track_url", specs[0].Name)
	assert.True(t, specs[0].Required)
	assert.Equal(t, "device_id", specs[1].Name)
	assert.False(t, specs[1].Required, "device_id is optional")
}

func TestPlayURL_DeviceTargeting(t *testing.T) {
	assert.Equal(t, "https://api.spotify.com/v1/me/player/play", playURL(""))
	assert.Equal(t, "https://api.spotify.com/v1/me/player/play?device_id=abc123", playURL("abc123"))
	assert.Equal(t, "https://api.spotify.com/v1/me/player/play?device_id=a+b%26c", playURL("a b&c"))
}

func TestTrackURI_AcceptedForms(t *testing.T) {
	cases := map[string]string{
		"spotify:track:4cOdK2wGLETKBW3PvgPWqT":                              "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		"https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT":             "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		"https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT?si=abc123":   "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		"open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT/":                    "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		"4cOdK2wGLETKBW3PvgPWqT":                                            "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
		"  spotify:track:4cOdK2wGLETKBW3PvgPWqT  ":                          "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
	}

	for in, want := range cases {
		got, err := TrackURI(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestTrackURI_RejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"spotify:track:",
		"https://open.spotify.com/track/",
		"https://example.com/track/abc",
		"not a track at all",
	} {
		_, err := TrackURI(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, engine.IsKind(err, engine.KindValidation), "input %q", in)
	}
}
