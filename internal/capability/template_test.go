package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	values := map[string]any{"track_name": "Song Two", "artists": "Blur"}

	assert.Equal(t, "Now playing: Song Two by Blur",
		Expand("Now playing: {{track_name}} by {{artists}}", values))
	assert.Equal(t, "no placeholders", Expand("no placeholders", values))
	assert.Equal(t, "{{unknown}} stays", Expand("{{unknown}} stays", values))
	assert.Equal(t, "{{track_name}}", Expand("{{track_name}}", nil))
}
