package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailsync_server/pkg/crypto"

	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

const oauthSchema = `
CREATE TABLE IF NOT EXISTS oauth_connections (
	user_id         TEXT NOT NULL,
	provider_domain TEXT NOT NULL,
	access_token    TEXT NOT NULL DEFAULT '',
	refresh_token   TEXT NOT NULL DEFAULT '',
	token_type      TEXT NOT NULL DEFAULT 'Bearer',
	expires_at      TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, provider_domain)
);`

type oauthConnectionEntity struct {
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenType    string       `db:"token_type"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
}

// OAuthAdapter stores OAuth2 grants with both tokens sealed at rest.
type OAuthAdapter struct {
	db     *sqlx.DB
	sealer crypto.Sealer
	now    func() time.Time
}

func NewOAuthAdapter(db *sqlx.DB, sealer crypto.Sealer) *OAuthAdapter {
	if sealer == nil {
		sealer = crypto.Plaintext{}
	}
	return &OAuthAdapter{db: db, sealer: sealer, now: time.Now}
}

func (a *OAuthAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, oauthSchema); err != nil {
		return fmt.Errorf("failed to create oauth_connections: %w", err)
	}
	return nil
}

// GetToken returns nil without error when no grant is stored.
func (a *OAuthAdapter) GetToken(ctx context.Context, userID, providerDomain string) (*oauth2.Token, error) {
	var entity oauthConnectionEntity
	query := `
		SELECT access_token, refresh_token, token_type, expires_at
		FROM oauth_connections
		WHERE user_id = $1 AND provider_domain = $2`

	if err := a.db.GetContext(ctx, &entity, query, userID, strings.ToLower(providerDomain)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	access, err := a.sealer.Decrypt(entity.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := a.sealer.Decrypt(entity.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: entity.TokenType}
	if entity.ExpiresAt.Valid {
		tok.Expiry = entity.ExpiresAt.Time
	}
	return tok, nil
}

// SaveToken upserts the grant. An empty refresh token keeps the stored one.
func (a *OAuthAdapter) SaveToken(ctx context.Context, userID, providerDomain string, token *oauth2.Token) error {
	access, err := a.sealer.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := a.sealer.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	expires := sql.NullTime{Time: token.Expiry, Valid: !token.Expiry.IsZero()}

	query := `
		INSERT INTO oauth_connections (user_id, provider_domain, access_token, refresh_token,
		                               token_type, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, provider_domain) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_connections.refresh_token),
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err = a.db.ExecContext(ctx, query,
		userID,
		strings.ToLower(providerDomain),
		access,
		refresh,
		token.Type(),
		expires,
		a.now(),
	)
	return err
}
