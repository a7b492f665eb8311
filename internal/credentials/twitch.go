package credentials

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const twitchTokenURL = "https://id.twitch.tv/oauth2/token"

// TwitchClient talks to the Twitch id service. Token calls carry the client
// credentials as form fields; Twitch rotates the refresh token on every
// refresh.
type TwitchClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	client       *http.Client
}

func NewTwitchClient(cfg config.OAuthClientConfig) *TwitchClient {
	return &TwitchClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TwitchClient) Provider() string { return "twitch" }

func (t *TwitchClient) Exchange(ctx context.Context, code string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", t.redirectURI)
	return t.tokenCall(ctx, form)
}

func (t *TwitchClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return t.tokenCall(ctx, form)
}

func (t *TwitchClient) tokenCall(ctx context.Context, form url.Values) (TokenSet, error) {
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitchTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "build twitch token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return TokenSet{}, engine.Wrap(engine.KindTransientProvider, err, "twitch token endpoint unreachable")
	}
	defer resp.Body.Close()

	return decodeTokenResponse("twitch", resp)
}
