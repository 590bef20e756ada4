package domain

// CredentialKind selects how a session authenticates.
type CredentialKind string

const (
	CredentialPassword CredentialKind = "password"
	CredentialOAuth2   CredentialKind = "oauth2"
)

// Credential is exactly one of a password or an OAuth2 access token.
type Credential struct {
	Kind   CredentialKind
	Secret string
}

func (c Credential) IsOAuth2() bool { return c.Kind == CredentialOAuth2 }

// String hides the secret so credentials can be logged safely.
func (c Credential) String() string {
	return string(c.Kind) + ":***"
}

// SessionConfig is everything a dialer needs to open one mailbox session.
// It is built once per run and owned by that run.
type SessionConfig struct {
	Address  string
	Username string
	Domain   string
	Host     string
	Port     int
	Protocol Protocol

	// Secure is always true. InsecureSkipVerify is always true as well:
	// certificate chains are not validated so self-signed hosts still work.
	Secure             bool
	InsecureSkipVerify bool

	FolderHint     string
	SupportsOAuth2 bool
	Credential     Credential
}

// SyncDescriptor is the inbound request for one sync run.
type SyncDescriptor struct {
	Address    string `json:"email"`
	Password   string `json:"password,omitempty"`
	OAuthToken string `json:"oauthToken,omitempty"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}
