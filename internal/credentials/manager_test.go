package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
	"github.com/flowhook/flowhook-api/internal/repository"
)

type fakeCredRepo struct {
	repository.CredentialRepository
	mu   sync.Mutex
	cred models.UserCredential

	lastRefreshArg string
}

func (f *fakeCredRepo) Get(ctx context.Context, id string) (models.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, nil
}

func (f *fakeCredRepo) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) (models.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefreshArg = refreshToken
	f.cred.AccessToken = accessToken
	// Mirrors the SQL COALESCE: an empty refresh token keeps the stored one.
	if refreshToken != "" {
		f.cred.RefreshToken = refreshToken
	}
	f.cred.ExpiresAt = expiresAt
	return f.cred, nil
}

type fakeAutomationRepo struct {
	repository.AutomationRepository
	disabled atomic.Int64
}

func (f *fakeAutomationRepo) DisableReactionsByCredential(ctx context.Context, credentialID string) (int64, error) {
	f.disabled.Add(1)
	return 1, nil
}

type fakeScheduleRepo struct {
	repository.ScheduleRepository
	paused atomic.Int64
}

func (f *fakeScheduleRepo) PausePollingJobsByCredential(ctx context.Context, credentialID string) (int64, error) {
	f.paused.Add(1)
	return 1, nil
}

type fakeOAuthClient struct {
	refreshes atomic.Int64
	set       TokenSet
	err       error
}

func (f *fakeOAuthClient) Provider() string { return "spotify" }

func (f *fakeOAuthClient) Exchange(ctx context.Context, code string) (TokenSet, error) {
	return f.set, f.err
}

func (f *fakeOAuthClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	f.refreshes.Add(1)
	if err := ctx.Err(); err != nil {
		return TokenSet{}, err
	}
	if f.err != nil {
		return TokenSet{}, f.err
	}
	return f.set, nil
}

func newManagerEnv(cred models.UserCredential, client *fakeOAuthClient) (*Manager, *fakeCredRepo, *fakeAutomationRepo, *fakeScheduleRepo) {
	creds := &fakeCredRepo{cred: cred}
	automations := &fakeAutomationRepo{}
	schedules := &fakeScheduleRepo{}
	m := NewManager(creds, automations, schedules, []OAuthClient{client}, zerolog.Nop())
	return m, creds, automations, schedules
}

func TestAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	client := &fakeOAuthClient{}
	m, _, _, _ := newManagerEnv(models.UserCredential{
		ID:          "c-1",
		Provider:    "spotify",
		AccessToken: "fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, client)

	token, err := m.AccessToken(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Zero(t, client.refreshes.Load())
}

func TestAccessToken_ExpiredTokenRefreshes(t *testing.T) {
	client := &fakeOAuthClient{set: TokenSet{
		AccessToken: "renewed",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	m, creds, _, _ := newManagerEnv(models.UserCredential{
		ID:           "c-1",
		Provider:     "spotify",
		AccessToken:  "stale",
		RefreshToken: "long-lived",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, client)

	token, err := m.AccessToken(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
	assert.Equal(t, int64(1), client.refreshes.Load())

	// The provider omitted a rotated refresh token; the stored one survives.
	assert.Equal(t, "", creds.lastRefreshArg)
	assert.Equal(t, "long-lived", creds.cred.RefreshToken)
}

func TestAccessToken_ConcurrentCallsRefreshOnce(t *testing.T) {
	client := &fakeOAuthClient{set: TokenSet{
		AccessToken: "renewed",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	m, _, _, _ := newManagerEnv(models.UserCredential{
		ID:           "c-1",
		Provider:     "spotify",
		AccessToken:  "stale",
		RefreshToken: "long-lived",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := m.AccessToken(context.Background(), "c-1")
			assert.NoError(t, err)
			assert.Equal(t, "renewed", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), client.refreshes.Load(), "singleflight collapses concurrent refreshes")
}

func TestAccessToken_RefreshSurvivesCallerCancellation(t *testing.T) {
	client := &fakeOAuthClient{set: TokenSet{
		AccessToken: "renewed",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	m, _, _, _ := newManagerEnv(models.UserCredential{
		ID:           "c-1",
		Provider:     "spotify",
		AccessToken:  "stale",
		RefreshToken: "long-lived",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Waiters sharing the flight must not inherit one caller's cancellation.
	token, err := m.AccessToken(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
}

func TestAccessToken_DeadGrantPausesDependents(t *testing.T) {
	client := &fakeOAuthClient{err: engine.Ef(engine.KindCredentialExpired, "spotify refused token refresh")}
	m, _, automations, schedules := newManagerEnv(models.UserCredential{
		ID:           "c-1",
		Provider:     "spotify",
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, client)

	_, err := m.AccessToken(context.Background(), "c-1")
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindCredentialExpired))
	assert.Equal(t, int64(1), automations.disabled.Load())
	assert.Equal(t, int64(1), schedules.paused.Load())
}

func TestAccessToken_MissingRefreshTokenIsExpired(t *testing.T) {
	client := &fakeOAuthClient{}
	m, _, _, _ := newManagerEnv(models.UserCredential{
		ID:          "c-1",
		Provider:    "spotify",
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}, client)

	_, err := m.AccessToken(context.Background(), "c-1")
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindCredentialExpired))
	assert.Zero(t, client.refreshes.Load())
}
