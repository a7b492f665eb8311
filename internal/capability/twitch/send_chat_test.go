package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

type chatMessage struct {
	BroadcasterID string `json:"broadcaster_id"`
	SenderID      string `json:"sender_id"`
	Message       string `json:"message"`
}

// helixStub answers /helix/users lookups and records /helix/chat/messages posts.
type helixStub struct {
	userLookups atomic.Int64
	sent        []chatMessage
}

func (h *helixStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/helix/users":
			h.userLookups.Add(1)
			if login := r.URL.Query().Get("login"); login != "" {
				fmt.Fprintf(w, `{"data":[{"id":"100","login":%q}]}`, login)
				return
			}
			fmt.Fprint(w, `{"data":[{"id":"900","login":"flowhook_bot"}]}`)
		case "/helix/chat/messages":
			var msg chatMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
			h.sent = append(h.sent, msg)
			fmt.Fprint(w, `{"data":[{"message_id":"m-1","is_sent":true}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newSendChatEnv(t *testing.T, stub *helixStub) *SendChat {
	t.Helper()
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)

	reaction := NewSendChat("client-id", "bot-token")
	reaction.baseURL = server.URL
	return reaction
}

func chatInvocation(message string, input map[string]any) *capability.Invocation {
	return &capability.Invocation{
		BindingID: "rb-1",
		Params:    map[string]any{"broadcaster_login": "Streamer", "message": message},
		Input:     input,
	}
}

func TestSendChat_PostsExpandedMessage(t *testing.T) {
	stub := &helixStub{}
	reaction := newSendChatEnv(t, stub)

	result, err := reaction.Run(context.Background(), chatInvocation(
		"Now playing {{track_name}}", map[string]any{"track_name": "Song Two"}))
	require.NoError(t, err)
	assert.True(t, result.OK)

	require.Len(t, stub.sent, 1)
	assert.Equal(t, "100", stub.sent[0].BroadcasterID)
	assert.Equal(t, "900", stub.sent[0].SenderID)
	assert.Equal(t, "Now playing Song Two", stub.sent[0].Message)
}

func TestSendChat_CachesUserLookups(t *testing.T) {
	stub := &helixStub{}
	reaction := newSendChatEnv(t, stub)

	for i := 0; i < 3; i++ {
		_, err := reaction.Run(context.Background(), chatInvocation("hello", nil))
		require.NoError(t, err)
	}

	// One broadcaster lookup plus one bot lookup, then cache hits.
	assert.Equal(t, int64(2), stub.userLookups.Load())
	assert.Len(t, stub.sent, 3)
}

func TestSendChat_EmptyExpandedMessageIsValidation(t *testing.T) {
	stub := &helixStub{}
	reaction := newSendChatEnv(t, stub)

	_, err := reaction.Run(context.Background(), chatInvocation("{{missing}}", map[string]any{"missing": "  "}))
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
	assert.Empty(t, stub.sent)
}

func TestSendChat_MissingBotTokenIsValidation(t *testing.T) {
	reaction := NewSendChat("client-id", "")

	_, err := reaction.Run(context.Background(), chatInvocation("hello", nil))
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
}

func TestSendChat_RejectedBotTokenIsValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	reaction := NewSendChat("client-id", "bot-token")
	reaction.baseURL = server.URL

	_, err := reaction.Run(context.Background(), chatInvocation("hello", nil))
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
}
