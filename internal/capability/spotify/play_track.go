package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const playerPlayURL = "https://api.spotify.com/v1/me/player/play"

// PlayTrack starts playback of a track on the user's active Spotify device.
type PlayTrack struct {
	client *http.Client
}

func NewPlayTrack() *PlayTrack {
	return &PlayTrack{client: &http.Client{Timeout: 10 * time.Second}}
}

func (r *PlayTrack) Key() capability.Key {
	return capability.Key{Provider: "spotify", Name: "play_track"}
}

func (r *PlayTrack) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "track_url", Type: capability.ParamString, Required: true},
		{Name: "device_id", Type: capability.ParamString},
	}
}

func (r *PlayTrack) Run(ctx context.Context, inv *capability.Invocation) (capability.ReactionResult, error) {
	track, err := capability.StringParam(inv.Params, "track_url")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	uri, err := TrackURI(track)
	if err != nil {
		return capability.ReactionResult{}, err
	}
	deviceID := capability.OptionalStringParam(inv.Params, "device_id")

	credID, err := inv.Credential()
	if err != nil {
		return capability.ReactionResult{}, engine.Wrap(engine.KindValidation, err, "spotify.play_track requires a spotify credential")
	}
	token, err := inv.Tokens.AccessToken(ctx, credID)
	if err != nil {
		return capability.ReactionResult{}, err
	}

	body, err := json.Marshal(map[string]any{"uris": []string{uri}})
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "encode play request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, playURL(deviceID), bytes.NewReader(body))
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "build play request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return capability.ReactionResult{}, engine.Wrap(engine.KindTransientProvider, err, "spotify player unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusOK:
		return capability.ReactionResult{OK: true, Output: map[string]any{"track_uri": uri}}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return capability.ReactionResult{}, engine.Ef(engine.KindCredentialExpired, "spotify rejected access token")
	case resp.StatusCode == http.StatusNotFound:
		return capability.ReactionResult{}, engine.Ef(engine.KindTransientProvider, "no active spotify device")
	case resp.StatusCode >= 500:
		return capability.ReactionResult{}, engine.Ef(engine.KindTransientProvider, "spotify player returned %d", resp.StatusCode)
	default:
		return capability.ReactionResult{}, engine.Ef(engine.KindTransientProvider, "spotify player returned %d", resp.StatusCode)
	}
}

// playURL targets the play request at a specific device when one is
// configured; otherwise Spotify picks the active device.
func playURL(deviceID string) string {
	if deviceID == "" {
		return playerPlayURL
	}
	return playerPlayURL + "?device_id=" + url.QueryEscape(deviceID)
}

// TrackURI normalizes a track reference into a spotify:track: URI. Accepted
// forms are the URI itself, an open.spotify.com track URL, or a bare track id.
func TrackURI(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", engine.Ef(engine.KindValidation, "track reference is empty")
	}

	if strings.HasPrefix(ref, "spotify:track:") {
		id := strings.TrimPrefix(ref, "spotify:track:")
		if id == "" {
			return "", engine.Ef(engine.KindValidation, "malformed spotify track URI %q", ref)
		}
		return ref, nil
	}

	if i := strings.Index(ref, "open.spotify.com/track/"); i >= 0 {
		id := ref[i+len("open.spotify.com/track/"):]
		if j := strings.IndexAny(id, "?#"); j >= 0 {
			id = id[:j]
		}
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			return "", engine.Ef(engine.KindValidation, "malformed spotify track URL %q", ref)
		}
		return "spotify:track:" + id, nil
	}

	if strings.ContainsAny(ref, ":/ ") {
		return "", engine.Ef(engine.KindValidation, "unrecognized spotify track reference %q", ref)
	}
	return "spotify:track:" + ref, nil
}
