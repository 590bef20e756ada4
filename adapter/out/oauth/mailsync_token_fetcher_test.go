package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	saved  int
}

func (s *memStore) GetToken(_ context.Context, userID, domain string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID+"/"+domain], nil
}

func (s *memStore) SaveToken(_ context.Context, userID, domain string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID+"/"+domain] = tok
	s.saved++
	return nil
}

func tokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfigs(tokenURL string) map[string]*oauth2.Config {
	return map[string]*oauth2.Config{
		"gmail.com": {ClientID: "id", ClientSecret: "secret", Endpoint: oauth2.Endpoint{TokenURL: tokenURL}},
	}
}

func TestFetchTokenRefreshesExpired(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	store := &memStore{tokens: map[string]*oauth2.Token{
		"u1/gmail.com": {AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Hour)},
	}}

	f := NewFetcher(store, testConfigs(srv.URL), WithHTTPClient(srv.Client()))
	tok, err := f.FetchToken(context.Background(), "Gmail.com", "u1")
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, 1, store.saved)
	require.Equal(t, "r1", store.tokens["u1/gmail.com"].RefreshToken)
}

func TestFetchTokenReusesValid(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	store := &memStore{tokens: map[string]*oauth2.Token{
		"u1/gmail.com": {AccessToken: "valid", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)},
	}}

	tok, err := NewFetcher(store, testConfigs(srv.URL)).FetchToken(context.Background(), "gmail.com", "u1")
	require.NoError(t, err)
	require.Equal(t, "valid", tok)
	require.Zero(t, hits.Load())
	require.Zero(t, store.saved)
}

func TestFetchTokenErrors(t *testing.T) {
	store := &memStore{tokens: map[string]*oauth2.Token{}}
	f := NewFetcher(store, testConfigs("http://127.0.0.1:1"))

	tests := []struct {
		name   string
		domain string
		user   string
		want   error
	}{
		{"no user", "gmail.com", "", ErrNoUser},
		{"no client", "zoho.com", "u1", ErrNoClient},
		{"no connection", "gmail.com", "u2", ErrNoConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.FetchToken(context.Background(), tt.domain, tt.user)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigsSkipsUnconfigured(t *testing.T) {
	configs := Configs(ClientConfig{GoogleClientID: "g", MicrosoftClientID: "m"})
	require.Contains(t, configs, "gmail.com")
	require.Contains(t, configs, "outlook.com")
	require.NotContains(t, configs, "yahoo.com")
	require.Contains(t, configs["outlook.com"].Endpoint.TokenURL, "/common/")
}
