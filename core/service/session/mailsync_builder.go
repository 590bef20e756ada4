// Package session turns a sync request into a concrete session configuration.
package session

import (
	"strings"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"
)

// Directory is the provider lookup the builder depends on.
type Directory interface {
	Lookup(domain string) (domain.ProviderProfile, error)
}

// Request carries the caller-supplied connection inputs.
type Request struct {
	Address    string
	Password   string
	OAuthToken string
	Host       string
	Port       int
}

// Builder is pure: it performs no I/O.
type Builder struct {
	directory Directory
}

func NewBuilder(directory Directory) *Builder {
	return &Builder{directory: directory}
}

// Build resolves the host and picks the credential for one run.
//
// Host resolution: an explicit host+port pair wins, otherwise the directory
// entry for the address domain. Credential precedence: an OAuth2 token when
// the provider accepts OAuth2, else the password.
func (b *Builder) Build(req Request) (*domain.SessionConfig, error) {
	address := strings.TrimSpace(req.Address)
	domainPart, ok := DomainOf(address)
	if !ok {
		return nil, apperr.InvalidAddress(address)
	}

	profile, lookupErr := b.directory.Lookup(domainPart)
	known := lookupErr == nil

	cfg := &domain.SessionConfig{
		Address:            address,
		Username:           address,
		Domain:             domain.NormalizeDomain(domainPart),
		Protocol:           domain.ProtocolIMAP,
		Secure:             true,
		InsecureSkipVerify: true,
	}

	switch {
	case req.Host != "" && req.Port > 0:
		cfg.Host = req.Host
		cfg.Port = req.Port
		if known {
			cfg.Protocol = profile.Protocol
			cfg.FolderHint = profile.InboxFolderHint
			cfg.SupportsOAuth2 = profile.SupportsOAuth2
		}
	case known:
		cfg.Host = profile.Host
		cfg.Port = profile.Port
		cfg.Protocol = profile.Protocol
		cfg.FolderHint = profile.InboxFolderHint
		cfg.SupportsOAuth2 = profile.SupportsOAuth2
	default:
		return nil, lookupErr
	}

	switch {
	case req.OAuthToken != "" && cfg.SupportsOAuth2:
		cfg.Credential = domain.Credential{Kind: domain.CredentialOAuth2, Secret: req.OAuthToken}
	case req.Password != "":
		cfg.Credential = domain.Credential{Kind: domain.CredentialPassword, Secret: req.Password}
	default:
		return nil, apperr.MissingCredentials(cfg.Domain)
	}

	return cfg, nil
}

// DomainOf returns the part after the last '@'.
func DomainOf(address string) (string, bool) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "", false
	}
	d := strings.TrimSpace(address[at+1:])
	if d == "" {
		return "", false
	}
	return d, true
}
