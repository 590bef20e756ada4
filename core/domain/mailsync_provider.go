package domain

import "strings"

// Protocol is the retrieval protocol a mail host speaks.
type Protocol string

const (
	ProtocolIMAP Protocol = "imap"
	ProtocolPOP3 Protocol = "pop3"
)

func (p Protocol) Valid() bool {
	return p == ProtocolIMAP || p == ProtocolPOP3
}

// ProviderProfile describes how to reach one mail provider.
// Profiles are loaded once at startup and never mutated.
type ProviderProfile struct {
	Domain          string   `json:"domain" yaml:"domain"`
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	Protocol        Protocol `json:"protocol" yaml:"protocol"`
	InboxFolderHint string   `json:"inbox_folder_hint,omitempty" yaml:"inbox_folder_hint"`
	SupportsOAuth2  bool     `json:"supports_oauth2" yaml:"supports_oauth2"`
}

// NormalizeDomain lowercases and trims a mail domain for directory keys.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
