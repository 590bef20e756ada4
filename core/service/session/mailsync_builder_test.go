package session

import (
	"testing"

	"mailsync_server/core/domain"
	"mailsync_server/core/service/provider"
	"mailsync_server/pkg/apperr"

	"github.com/stretchr/testify/require"
)

func newBuilder() *Builder {
	return NewBuilder(provider.Default())
}

func TestBuildResolvesFromDirectory(t *testing.T) {
	cfg, err := newBuilder().Build(Request{Address: "alice@Gmail.com", Password: "pw"})
	require.NoError(t, err)

	require.Equal(t, "imap.gmail.com", cfg.Host)
	require.Equal(t, 993, cfg.Port)
	require.Equal(t, "gmail.com", cfg.Domain)
	require.Equal(t, "alice@Gmail.com", cfg.Username)
	require.Equal(t, "INBOX", cfg.FolderHint)
	require.True(t, cfg.Secure)
	require.True(t, cfg.InsecureSkipVerify)
	require.Equal(t, domain.CredentialPassword, cfg.Credential.Kind)
}

func TestBuildCredentialPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		wantKind domain.CredentialKind
		wantCode string
	}{
		{
			name:     "token preferred for oauth2 provider",
			req:      Request{Address: "a@gmail.com", Password: "pw", OAuthToken: "tok"},
			wantKind: domain.CredentialOAuth2,
		},
		{
			name:     "password when provider lacks oauth2",
			req:      Request{Address: "a@zoho.com", Password: "pw", OAuthToken: "tok"},
			wantKind: domain.CredentialPassword,
		},
		{
			name:     "token only for non-oauth2 provider",
			req:      Request{Address: "a@zoho.com", OAuthToken: "tok"},
			wantCode: apperr.CodeMissingCredentials,
		},
		{
			name:     "nothing supplied",
			req:      Request{Address: "a@gmail.com"},
			wantCode: apperr.CodeMissingCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newBuilder().Build(tt.req)
			if tt.wantCode != "" {
				require.True(t, apperr.IsCode(err, tt.wantCode), "got %v", err)
				require.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, cfg.Credential.Kind)
		})
	}
}

func TestBuildAddressAndDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		wantCode string
	}{
		{"no at sign", "alice", apperr.CodeInvalidAddress},
		{"empty domain", "alice@", apperr.CodeInvalidAddress},
		{"unknown domain", "alice@unknown.example", apperr.CodeUnsupportedDomain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newBuilder().Build(Request{Address: tt.address, Password: "pw"})
			require.True(t, apperr.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestBuildOverride(t *testing.T) {
	t.Run("unknown domain with explicit host", func(t *testing.T) {
		cfg, err := newBuilder().Build(Request{Address: "bob@corp.example", Password: "pw", Host: "mail.corp.example", Port: 1993})
		require.NoError(t, err)
		require.Equal(t, "mail.corp.example", cfg.Host)
		require.Equal(t, 1993, cfg.Port)
		require.False(t, cfg.SupportsOAuth2)
		require.Equal(t, domain.ProtocolIMAP, cfg.Protocol)
	})

	t.Run("known domain keeps oauth2 support", func(t *testing.T) {
		cfg, err := newBuilder().Build(Request{Address: "bob@gmail.com", OAuthToken: "tok", Host: "127.0.0.1", Port: 10993})
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1", cfg.Host)
		require.Equal(t, domain.CredentialOAuth2, cfg.Credential.Kind)
	})

	t.Run("host without port is not an override", func(t *testing.T) {
		_, err := newBuilder().Build(Request{Address: "bob@corp.example", Password: "pw", Host: "mail.corp.example"})
		require.True(t, apperr.IsCode(err, apperr.CodeUnsupportedDomain))
	})
}

func TestDomainOfUsesLastAt(t *testing.T) {
	d, ok := DomainOf(`"odd@name"@example.org`)
	require.True(t, ok)
	require.Equal(t, "example.org", d)
}
