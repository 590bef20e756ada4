// Package provider resolves mail domains to server profiles.
package provider

import (
	_ "embed"
	"fmt"
	"os"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var defaultProviders []byte

type providerFile struct {
	Providers []domain.ProviderProfile `yaml:"providers"`
}

// Directory is an immutable, case-insensitive domain -> profile table.
// It is safe for concurrent reads.
type Directory struct {
	profiles map[string]domain.ProviderProfile
}

// NewDirectory builds a directory from profiles, rejecting invalid or duplicate entries.
func NewDirectory(profiles []domain.ProviderProfile) (*Directory, error) {
	d := &Directory{profiles: make(map[string]domain.ProviderProfile, len(profiles))}
	for i, p := range profiles {
		p.Domain = domain.NormalizeDomain(p.Domain)
		if p.Protocol == "" {
			p.Protocol = domain.ProtocolIMAP
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if _, dup := d.profiles[p.Domain]; dup {
			return nil, fmt.Errorf("provider %d: duplicate domain %s", i, p.Domain)
		}
		d.profiles[p.Domain] = p
	}
	return d, nil
}

// Parse reads a YAML provider table.
func Parse(data []byte) (*Directory, error) {
	var f providerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse provider table: %w", err)
	}
	return NewDirectory(f.Providers)
}

// Load reads the table at path, or the built-in table when path is empty.
func Load(path string) (*Directory, error) {
	if path == "" {
		return Parse(defaultProviders)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider table: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in table.
func Default() *Directory {
	d, err := Parse(defaultProviders)
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup finds the profile for a domain. Unknown domains are an
// UNSUPPORTED_DOMAIN error; there is no guessed fallback host.
func (d *Directory) Lookup(name string) (domain.ProviderProfile, error) {
	p, ok := d.profiles[domain.NormalizeDomain(name)]
	if !ok {
		return domain.ProviderProfile{}, apperr.UnsupportedDomain(name)
	}
	return p, nil
}

// Len returns the number of known providers.
func (d *Directory) Len() int {
	return len(d.profiles)
}

func validate(p domain.ProviderProfile) error {
	switch {
	case p.Domain == "":
		return fmt.Errorf("empty domain")
	case p.Host == "":
		return fmt.Errorf("%s: empty host", p.Domain)
	case p.Port <= 0 || p.Port > 65535:
		return fmt.Errorf("%s: port %d out of range", p.Domain, p.Port)
	case !p.Protocol.Valid():
		return fmt.Errorf("%s: unknown protocol %q", p.Domain, p.Protocol)
	}
	return nil
}
