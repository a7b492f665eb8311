package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const spotifyTokenURL = "https://accounts.spotify.com/api/token"

// SpotifyClient talks to the Spotify accounts service. Token calls carry the
// client id and secret as HTTP Basic; Spotify usually does not rotate the
// refresh token.
type SpotifyClient struct {
	clientID     string
	clientSecret string
	redirectURI  string
	client       *http.Client
}

func NewSpotifyClient(cfg config.OAuthClientConfig) *SpotifyClient {
	return &SpotifyClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SpotifyClient) Provider() string { return "spotify" }

func (s *SpotifyClient) Exchange(ctx context.Context, code string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.redirectURI)
	return s.tokenCall(ctx, form)
}

func (s *SpotifyClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return s.tokenCall(ctx, form)
}

func (s *SpotifyClient) tokenCall(ctx context.Context, form url.Values) (TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spotifyTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "build spotify token request")
	}
	basic := base64.StdEncoding.EncodeToString([]byte(s.clientID + ":" + s.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return TokenSet{}, engine.Wrap(engine.KindTransientProvider, err, "spotify token endpoint unreachable")
	}
	defer resp.Body.Close()

	return decodeTokenResponse("spotify", resp)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// decodeTokenResponse maps an OAuth token endpoint response onto a TokenSet.
// 4xx means the grant itself is dead; 5xx is retryable.
func decodeTokenResponse(provider string, resp *http.Response) (TokenSet, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TokenSet{}, engine.Wrapf(engine.KindTransientProvider, err, "read %s token response", provider)
	}

	switch {
	case resp.StatusCode >= 500:
		return TokenSet{}, engine.Ef(engine.KindTransientProvider, "%s token endpoint returned %d", provider, resp.StatusCode)
	case resp.StatusCode >= 400:
		return TokenSet{}, engine.Ef(engine.KindCredentialExpired, "%s refused token refresh: %d %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenSet{}, engine.Wrapf(engine.KindTransientProvider, err, "decode %s token response", provider)
	}
	if tr.AccessToken == "" {
		return TokenSet{}, engine.Ef(engine.KindTransientProvider, "%s token response missing access_token", provider)
	}

	return TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
