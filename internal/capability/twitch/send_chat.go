package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const defaultHelixBaseURL = "https://api.twitch.tv"

// SendChat posts a message into a channel's chat through a bot account. The
// bot token is server configuration, not a user credential. The message
// parameter supports {{name}} placeholders filled from the trigger's output.
type SendChat struct {
	clientID string
	botToken string
	baseURL  string
	client   *http.Client

	mu             sync.Mutex
	broadcasterIDs map[string]string // login -> user id
	botUserID      string
}

func NewSendChat(clientID, botToken string) *SendChat {
	return &SendChat{
		clientID:       clientID,
		botToken:       botToken,
		baseURL:        defaultHelixBaseURL,
		client:         &http.Client{Timeout: 10 * time.Second},
		broadcasterIDs: make(map[string]string),
	}
}

func (r *SendChat) Key() capability.Key {
	return capability.Key{Provider: "twitch", Name: "send_chat_message"}
}

func (r *SendChat) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "broadcaster_login", Type: capability.ParamString, Required: true},
		{Name: "message", Type: capability.ParamString, Required: true},
	}
}

func (r *SendChat) Run(ctx context.Context, inv *capability.Invocation) (capability.ReactionResult, error) {
	login, err := capability.StringParam(inv.Params, "broadcaster_login")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	template, err := capability.StringParam(inv.Params, "message")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	if r.botToken == "" {
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "twitch bot token is not configured")
	}

	message := capability.Expand(template, inv.Input)
	if strings.TrimSpace(message) == "" {
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "message is empty after template expansion")
	}

	broadcasterID, err := r.userIDByLogin(ctx, login)
	if err != nil {
		return capability.ReactionResult{}, err
	}
	senderID, err := r.botID(ctx)
	if err != nil {
		return capability.ReactionResult{}, err
	}

	body, err := json.Marshal(map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        message,
	})
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "encode chat message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/helix/chat/messages", bytes.NewReader(body))
	if err != nil {
		return capability.ReactionResult{}, errors.Wrap(err, "build chat request")
	}
	r.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return capability.ReactionResult{}, engine.Wrap(engine.KindTransientProvider, err, "helix chat unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return capability.ReactionResult{OK: true, Output: map[string]any{"broadcaster_login": login}}, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "helix rejected bot token with %d", resp.StatusCode)
	default:
		return capability.ReactionResult{}, engine.Ef(engine.KindTransientProvider, "helix chat returned %d", resp.StatusCode)
	}
}

type helixUsersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

// userIDByLogin resolves a broadcaster login to a user id, caching results so
// repeated reactions to the same channel skip the lookup.
func (r *SendChat) userIDByLogin(ctx context.Context, login string) (string, error) {
	key := strings.ToLower(login)
	r.mu.Lock()
	cached, ok := r.broadcasterIDs[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	id, err := r.lookupUser(ctx, "/helix/users?login="+url.QueryEscape(login))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", engine.Ef(engine.KindValidation, "twitch user %q not found", login)
	}

	r.mu.Lock()
	r.broadcasterIDs[key] = id
	r.mu.Unlock()
	return id, nil
}

// botID resolves the bot account's own user id from its token, once.
func (r *SendChat) botID(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.botUserID
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	id, err := r.lookupUser(ctx, "/helix/users")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", engine.Ef(engine.KindValidation, "could not resolve bot user from twitch bot token")
	}

	r.mu.Lock()
	r.botUserID = id
	r.mu.Unlock()
	return id, nil
}

func (r *SendChat) lookupUser(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return "", errors.Wrap(err, "build users request")
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", engine.Wrap(engine.KindTransientProvider, err, "helix users unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", engine.Ef(engine.KindValidation, "helix rejected bot token with %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", engine.Ef(engine.KindTransientProvider, "helix users returned %d", resp.StatusCode)
	}

	var payload helixUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", engine.Wrap(engine.KindTransientProvider, err, "decode helix users response")
	}
	if len(payload.Data) == 0 {
		return "", nil
	}
	return payload.Data[0].ID, nil
}

func (r *SendChat) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.botToken)
	req.Header.Set("Client-Id", r.clientID)
}
