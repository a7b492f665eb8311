package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const currentlyPlayingURL = "https://api.spotify.com/v1/me/player/currently-playing"

// TrackChanged triggers when the user's currently playing Spotify track
// changes. Silence (nothing playing) never triggers and clears the remembered
// track, so resuming the same song later counts as a change.
type TrackChanged struct {
	client *http.Client

	mu        sync.Mutex
	lastTrack map[string]string // binding id -> last reported track id
}

func NewTrackChanged() *TrackChanged {
	return &TrackChanged{
		client:    &http.Client{Timeout: 10 * time.Second},
		lastTrack: make(map[string]string),
	}
}

func (t *TrackChanged) Key() capability.Key {
	return capability.Key{Provider: "spotify", Name: "track_changed"}
}

func (t *TrackChanged) Params() []capability.ParamSpec { return nil }

type currentlyPlayingResponse struct {
	IsPlaying bool `json:"is_playing"`
	Item      struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		URI     string `json:"uri"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"item"`
}

func (t *TrackChanged) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	credID, err := inv.Credential()
	if err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindValidation, err, "spotify.track_changed requires a spotify credential")
	}
	token, err := inv.Tokens.AccessToken(ctx, credID)
	if err != nil {
		return capability.TriggerResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentlyPlayingURL, nil)
	if err != nil {
		return capability.TriggerResult{}, errors.Wrap(err, "build currently-playing request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(req)
	if err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "spotify player unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// Nothing playing.
		t.forget(inv.BindingID)
		return capability.TriggerResult{Triggered: false}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return capability.TriggerResult{}, engine.Ef(engine.KindCredentialExpired, "spotify rejected access token")
	case resp.StatusCode >= 500:
		return capability.TriggerResult{}, engine.Ef(engine.KindTransientProvider, "spotify player returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return capability.TriggerResult{}, engine.Ef(engine.KindTransientProvider, "spotify player returned %d", resp.StatusCode)
	}

	var payload currentlyPlayingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "decode spotify response")
	}

	if !payload.IsPlaying || payload.Item.ID == "" {
		t.forget(inv.BindingID)
		return capability.TriggerResult{Triggered: false}, nil
	}

	if !t.remember(inv.BindingID, payload.Item.ID) {
		return capability.TriggerResult{Triggered: false}, nil
	}

	artists := make([]string, 0, len(payload.Item.Artists))
	for _, a := range payload.Item.Artists {
		artists = append(artists, a.Name)
	}

	return capability.TriggerResult{
		Triggered: true,
		Output: map[string]any{
			"track_id":   payload.Item.ID,
			"track_name": payload.Item.Name,
			"track_uri":  payload.Item.URI,
			"artists":    strings.Join(artists, ", "),
		},
	}, nil
}

func (t *TrackChanged) remember(bindingID, trackID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastTrack[bindingID] == trackID {
		return false
	}
	t.lastTrack[bindingID] = trackID
	return true
}

func (t *TrackChanged) forget(bindingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastTrack, bindingID)
}
