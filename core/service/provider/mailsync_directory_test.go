package provider

import (
	"os"
	"path/filepath"
	"testing"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"

	"github.com/stretchr/testify/require"
)

func TestDefaultDirectoryLookup(t *testing.T) {
	d := Default()

	tests := []struct {
		name      string
		domain    string
		host      string
		hint      string
		supported bool
	}{
		{"gmail", "gmail.com", "imap.gmail.com", "INBOX", true},
		{"case insensitive", "GMail.COM", "imap.gmail.com", "INBOX", true},
		{"yahoo", "yahoo.com", "imap.mail.yahoo.com", "", true},
		{"outlook", "outlook.com", "imap-mail.outlook.com", "", true},
		{"zoho", "zoho.com", "imap.zoho.com", "", false},
		{"bluehost", "bluehost.com", "mail.bluehost.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := d.Lookup(tt.domain)
			require.NoError(t, err)
			require.Equal(t, tt.host, p.Host)
			require.Equal(t, 993, p.Port)
			require.Equal(t, domain.ProtocolIMAP, p.Protocol)
			require.Equal(t, tt.hint, p.InboxFolderHint)
			require.Equal(t, tt.supported, p.SupportsOAuth2)
		})
	}
}

func TestLookupUnknownDomain(t *testing.T) {
	_, err := Default().Lookup("unknown.example")
	require.True(t, apperr.IsCode(err, apperr.CodeUnsupportedDomain))
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing host", "providers:\n  - domain: a.example\n    port: 993\n"},
		{"bad port", "providers:\n  - domain: a.example\n    host: h\n    port: 70000\n"},
		{"bad protocol", "providers:\n  - domain: a.example\n    host: h\n    port: 993\n    protocol: smtp\n"},
		{"duplicate", "providers:\n  - domain: a.example\n    host: h\n    port: 993\n  - domain: A.example\n    host: h\n    port: 993\n"},
		{"malformed", "providers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	data := "providers:\n  - domain: corp.example\n    host: pop.corp.example\n    port: 995\n    protocol: pop3\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, d.Len())

	p, err := d.Lookup("corp.example")
	require.NoError(t, err)
	require.Equal(t, domain.ProtocolPOP3, p.Protocol)
	require.False(t, p.SupportsOAuth2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
