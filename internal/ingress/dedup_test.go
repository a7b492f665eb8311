package ingress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLSet_SeenTwice(t *testing.T) {
	s := NewTTLSet(10*time.Minute, 100)

	assert.False(t, s.Seen("msg-1"), "first sighting is new")
	assert.True(t, s.Seen("msg-1"), "second sighting is a duplicate")
	assert.False(t, s.Seen("msg-2"))
}

func TestTTLSet_ExpiryForgets(t *testing.T) {
	s := NewTTLSet(10*time.Minute, 100)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.False(t, s.Seen("msg-1"))

	now = now.Add(11 * time.Minute)
	assert.False(t, s.Seen("msg-1"), "entry past its TTL is forgotten")
	assert.Equal(t, 1, s.Len(), "expired entry was purged")
}

func TestTTLSet_BoundedSize(t *testing.T) {
	s := NewTTLSet(10*time.Minute, 5)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		now = now.Add(time.Second)
		s.Seen(fmt.Sprintf("msg-%d", i))
	}

	assert.LessOrEqual(t, s.Len(), 5)
	assert.True(t, s.Seen("msg-19"), "newest entry survives eviction")
}
