package credentials

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

// expirySkew treats tokens expiring within this window as already expired, so
// a token handed to a capability stays valid for the duration of the call.
const expirySkew = 45 * time.Second

// TokenSet is a refresh result. RefreshToken may be empty when the provider
// did not rotate it; storage keeps the previous one in that case.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// OAuthClient talks to one provider's token endpoint: the initial
// authorization-code exchange and subsequent refreshes.
type OAuthClient interface {
	Provider() string
	Exchange(ctx context.Context, code string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// Manager hands out valid provider access tokens, refreshing them behind a
// singleflight so concurrent executions of the same credential trigger at
// most one refresh call.
type Manager struct {
	creds       repository.CredentialRepository
	automations repository.AutomationRepository
	schedules   repository.ScheduleRepository
	clients     map[string]OAuthClient
	group       singleflight.Group
	logger      zerolog.Logger
}

func NewManager(
	creds repository.CredentialRepository,
	automations repository.AutomationRepository,
	schedules repository.ScheduleRepository,
	clients []OAuthClient,
	logger zerolog.Logger,
) *Manager {
	byProvider := make(map[string]OAuthClient, len(clients))
	for _, c := range clients {
		byProvider[c.Provider()] = c
	}
	return &Manager{
		creds:       creds,
		automations: automations,
		schedules:   schedules,
		clients:     byProvider,
		logger:      logger.With().Str("component", "credentials").Logger(),
	}
}

// AccessToken returns a usable access token for the credential, refreshing it
// first when it is expired or about to expire. A permanently dead refresh
// token pauses every binding that depends on the credential.
func (m *Manager) AccessToken(ctx context.Context, credentialID string) (string, error) {
	cred, err := m.creds.Get(ctx, credentialID)
	if err != nil {
		return "", err
	}

	if !cred.Expired(time.Now(), expirySkew) {
		return cred.AccessToken, nil
	}

	token, err, _ := m.group.Do(credentialID, func() (interface{}, error) {
		// The flight's result is shared by every waiter, so the refresh must
		// not die with the first caller's context.
		return m.refresh(context.WithoutCancel(ctx), credentialID)
	})
	if err != nil {
		if engine.IsKind(err, engine.KindCredentialExpired) {
			m.pauseDependents(ctx, credentialID)
		}
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context, credentialID string) (string, error) {
	// Re-read inside the flight: a concurrent caller may have refreshed and
	// stored new tokens while this one waited.
	cred, err := m.creds.Get(ctx, credentialID)
	if err != nil {
		return "", err
	}
	if !cred.Expired(time.Now(), expirySkew) {
		return cred.AccessToken, nil
	}

	client, ok := m.clients[cred.Provider]
	if !ok {
		return "", engine.Ef(engine.KindNotFound, "no oauth client for provider %q", cred.Provider)
	}
	if cred.RefreshToken == "" {
		return "", engine.Ef(engine.KindCredentialExpired, "credential %s has no refresh token", credentialID)
	}

	set, err := client.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	updated, err := m.creds.UpdateTokens(ctx, credentialID, set.AccessToken, set.RefreshToken, set.ExpiresAt)
	if err != nil {
		return "", err
	}

	m.logger.Info().
		Str("credential_id", credentialID).
		Str("provider", cred.Provider).
		Time("expires_at", updated.ExpiresAt).
		Msg("refreshed access token")
	return updated.AccessToken, nil
}

// pauseDependents stops work that can only fail while the credential is dead:
// polling jobs are paused and reaction bindings disabled until the user
// reconnects the provider.
func (m *Manager) pauseDependents(ctx context.Context, credentialID string) {
	paused, err := m.schedules.PausePollingJobsByCredential(ctx, credentialID)
	if err != nil {
		m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to pause polling jobs")
	}
	disabled, err := m.automations.DisableReactionsByCredential(ctx, credentialID)
	if err != nil {
		m.logger.Error().Err(err).Str("credential_id", credentialID).Msg("failed to disable reaction bindings")
	}
	m.logger.Warn().
		Str("credential_id", credentialID).
		Int64("polling_jobs_paused", paused).
		Int64("reactions_disabled", disabled).
		Msg("credential expired, dependent bindings paused")
}

// Connect completes an OAuth callback: the authorization code is exchanged
// for tokens and stored against the user.
func (m *Manager) Connect(ctx context.Context, userID, provider, code string) (models.UserCredential, error) {
	client, ok := m.clients[provider]
	if !ok {
		return models.UserCredential{}, engine.Ef(engine.KindNotFound, "no oauth client for provider %q", provider)
	}

	set, err := client.Exchange(ctx, code)
	if err != nil {
		return models.UserCredential{}, err
	}

	cred, err := m.creds.Upsert(ctx, userID, provider, set.AccessToken, set.RefreshToken, set.ExpiresAt)
	if err != nil {
		return models.UserCredential{}, err
	}

	m.logger.Info().
		Str("user_id", userID).
		Str("provider", provider).
		Str("credential_id", cred.ID).
		Msg("provider connected")
	return cred, nil
}
