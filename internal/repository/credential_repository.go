package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/flowhook/flowhook-api/internal/engine"
	"github.com/flowhook/flowhook-api/internal/models"
)

type CredentialRepository interface {
	Get(ctx context.Context, id string) (models.UserCredential, error)
	GetByUserProvider(ctx context.Context, userID, provider string) (models.UserCredential, error)
	Upsert(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) (models.UserCredential, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) (models.UserCredential, error)
}

type credentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Get(ctx context.Context, id string) (models.UserCredential, error) {
	const query = `
		SELECT id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
		FROM flowhook.user_credentials
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *credentialRepository) GetByUserProvider(ctx context.Context, userID, provider string) (models.UserCredential, error) {
	const query = `
		SELECT id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
		FROM flowhook.user_credentials
		WHERE user_id = $1 AND provider = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, provider), provider)
}

// Upsert stores a fresh token set from an OAuth callback. An empty refresh
// token keeps the previously stored one; a grant without any refresh token on
// record is rejected, since the initial connect must supply it.
func (r *credentialRepository) Upsert(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) (models.UserCredential, error) {
	const query = `
		INSERT INTO flowhook.user_credentials (user_id, provider, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET access_token  = EXCLUDED.access_token,
		    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), flowhook.user_credentials.refresh_token),
		    expires_at    = EXCLUDED.expires_at,
		    updated_at    = now()
		RETURNING id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, provider, accessToken, refreshToken, expiresAt), provider)
}

// UpdateTokens persists a refresh result. The COALESCE keeps the stored
// refresh token when the provider response omitted one; refresh tokens are
// rotated rarely and must never be discarded.
func (r *credentialRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) (models.UserCredential, error) {
	const query = `
		UPDATE flowhook.user_credentials
		SET access_token  = $1,
		    refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
		    expires_at    = $3,
		    updated_at    = now()
		WHERE id = $4
		RETURNING id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, accessToken, refreshToken, expiresAt, id), id)
}

func (r *credentialRepository) scanOne(row *sql.Row, ref string) (models.UserCredential, error) {
	var c models.UserCredential
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Provider,
		&c.AccessToken,
		&c.RefreshToken,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, engine.Ef(engine.KindNotFound, "credential not found: %s", ref)
		}
		return c, err
	}
	return c, nil
}
