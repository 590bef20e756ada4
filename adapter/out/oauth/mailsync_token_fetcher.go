// Package oauth refreshes stored OAuth2 grants into IMAP access tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

var (
	ErrNoUser       = errors.New("oauth: user id required")
	ErrNoClient     = errors.New("oauth: no client configured for domain")
	ErrNoConnection = errors.New("oauth: no stored connection")
)

// ConnectionStore persists the OAuth2 grant per user and provider domain.
type ConnectionStore interface {
	GetToken(ctx context.Context, userID, providerDomain string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID, providerDomain string, token *oauth2.Token) error
}

// ClientConfig holds the application credentials for each identity provider.
type ClientConfig struct {
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string
	YahooClientID         string
	YahooClientSecret     string
}

var yahooEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
	TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
}

// Configs maps provider domains to oauth2 configs. Providers without a
// client id are left out.
func Configs(c ClientConfig) map[string]*oauth2.Config {
	configs := make(map[string]*oauth2.Config)
	if c.GoogleClientID != "" {
		configs["gmail.com"] = &oauth2.Config{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			Scopes:       []string{"https://mail.google.com/"},
			Endpoint:     google.Endpoint,
		}
	}
	if c.MicrosoftClientID != "" {
		tenant := c.MicrosoftTenantID
		if tenant == "" {
			tenant = "common"
		}
		configs["outlook.com"] = &oauth2.Config{
			ClientID:     c.MicrosoftClientID,
			ClientSecret: c.MicrosoftClientSecret,
			Scopes:       []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		}
	}
	if c.YahooClientID != "" {
		configs["yahoo.com"] = &oauth2.Config{
			ClientID:     c.YahooClientID,
			ClientSecret: c.YahooClientSecret,
			Scopes:       []string{"mail-r"},
			Endpoint:     yahooEndpoint,
		}
	}
	return configs
}

// Fetcher implements out.TokenFetcher.
type Fetcher struct {
	configs map[string]*oauth2.Config
	store   ConnectionStore
	client  *http.Client
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

func NewFetcher(store ConnectionStore, configs map[string]*oauth2.Config, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		configs: configs,
		store:   store,
		client:  httputil.NewClient(httputil.TokenEndpointConfig()),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchToken returns a valid access token, refreshing through the
// provider's token endpoint when the stored one has expired.
func (f *Fetcher) FetchToken(ctx context.Context, providerDomain, userID string) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	providerDomain = strings.ToLower(providerDomain)
	cfg, ok := f.configs[providerDomain]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoClient, providerDomain)
	}

	stored, err := f.store.GetToken(ctx, userID, providerDomain)
	if err != nil {
		return "", fmt.Errorf("load oauth connection: %w", err)
	}
	if stored == nil {
		return "", ErrNoConnection
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, f.client)
	fresh, err := cfg.TokenSource(tokenCtx, stored).Token()
	if err != nil {
		return "", fmt.Errorf("refresh %s token: %w", providerDomain, err)
	}
	if fresh.AccessToken != stored.AccessToken {
		if err := f.store.SaveToken(ctx, userID, providerDomain, fresh); err != nil {
			logger.WithError(err).Warn("[OAuth] failed to persist refreshed token for %s", providerDomain)
		}
	}
	return fresh.AccessToken, nil
}
