package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

// SendMessage posts a message to a Discord channel using the application's
// bot token. No per-user credential is involved.
type SendMessage struct {
	botToken string
	client   *http.Client
}

func NewSendMessage(botToken string) *SendMessage {
	return &SendMessage{
		botToken: botToken,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *SendMessage) Key() capability.Key {
	return capability.Key{Provider: "discord", Name: "send_message"}
}

func (r *SendMessage) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "channel_id", Type: capability.ParamString, Required: true},
		{Name: "message", Type: capability.ParamString, Required: true},
	}
}

type messageResponse struct {
	ID string `json:"id"`
}

func (r *SendMessage) Run(ctx context.Context, inv *capability.Invocation) (capability.ReactionResult, error) {
	channelID, err := capability.StringParam(inv.Params, "channel_id")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	message, err := capability.StringParam(inv.Params, "message")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	if r.botToken == "" {
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "discord bot token is not configured")
	}

	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "encode discord message")
	}

	endpoint := "https://discord.com/api/v10/channels/" + channelID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "build discord request")
	}
	req.Header.Set("Authorization", "Bot "+r.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return capability.ReactionResult{}, engine.Wrap(engine.KindTransientProvider, err, "discord api unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var mr messageResponse
		if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
			return capability.ReactionResult{}, engine.Wrap(engine.KindTransientProvider, err, "decode discord response")
		}
		return capability.ReactionResult{OK: true, Output: map[string]any{"message_id": mr.ID}}, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "discord rejected bot token for channel %s: %d", channelID, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return capability.ReactionResult{}, engine.Ef(engine.KindTransientProvider, "discord api returned %d", resp.StatusCode)
	default:
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "discord api returned %d", resp.StatusCode)
	}
}
