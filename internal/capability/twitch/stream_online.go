package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const helixStreamsURL = "https://api.twitch.tv/helix/streams"

// StreamOnline triggers when a Twitch channel goes live. Detection is
// edge-based: a stream id is reported once and then remembered per binding,
// so a channel staying live across sweeps fires a single event.
type StreamOnline struct {
	clientID string
	client   *http.Client

	mu       sync.Mutex
	lastSeen map[string]string // binding id -> last reported stream id
}

func NewStreamOnline(clientID string) *StreamOnline {
	return &StreamOnline{
		clientID: clientID,
		client:   &http.Client{Timeout: 10 * time.Second},
		lastSeen: make(map[string]string),
	}
}

func (t *StreamOnline) Key() capability.Key {
	return capability.Key{Provider: "twitch", Name: "stream_online"}
}

func (t *StreamOnline) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "user_login", Type: capability.ParamString, Required: true},
	}
}

type helixStreamsResponse struct {
	Data []struct {
		ID        string `json:"id"`
		UserLogin string `json:"user_login"`
		Title     string `json:"title"`
		GameName  string `json:"game_name"`
		StartedAt string `json:"started_at"`
	} `json:"data"`
}

func (t *StreamOnline) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	login, err := capability.StringParam(inv.Params, "user_login")
	if err != nil {
		return capability.TriggerResult{}, err
	}

	credID, err := inv.Credential()
	if err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindValidation, err, "twitch.stream_online requires a twitch credential")
	}
	token, err := inv.Tokens.AccessToken(ctx, credID)
	if err != nil {
		return capability.TriggerResult{}, err
	}

	endpoint := helixStreamsURL + "?user_login=" + url.QueryEscape(login)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return capability.TriggerResult{}, errors.Wrap(err, "build helix request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", t.clientID)

	resp, err := t.client.Do(req)
	if err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "helix streams unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return capability.TriggerResult{}, engine.Ef(engine.KindCredentialExpired, "helix rejected access token")
	case resp.StatusCode >= 500:
		return capability.TriggerResult{}, engine.Ef(engine.KindTransientProvider, "helix streams returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return capability.TriggerResult{}, engine.Ef(engine.KindTransientProvider, "helix streams returned %d", resp.StatusCode)
	}

	var payload helixStreamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "decode helix response")
	}

	if len(payload.Data) == 0 {
		t.forget(inv.BindingID)
		return capability.TriggerResult{Triggered: false}, nil
	}

	stream := payload.Data[0]
	if !t.remember(inv.BindingID, stream.ID) {
		return capability.TriggerResult{Triggered: false}, nil
	}

	return capability.TriggerResult{
		Triggered: true,
		Output: map[string]any{
			"stream_id":  stream.ID,
			"user_login": stream.UserLogin,
			"title":      stream.Title,
			"game_name":  stream.GameName,
			"started_at": stream.StartedAt,
		},
	}, nil
}

// remember records the stream id for a binding and reports whether it is new.
func (t *StreamOnline) remember(bindingID, streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSeen[bindingID] == streamID {
		return false
	}
	t.lastSeen[bindingID] = streamID
	return true
}

func (t *StreamOnline) forget(bindingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, bindingID)
}
