// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"

	"mailsync_server/core/domain"
)

// =============================================================================
// Mailbox session (IMAP / POP3)
// =============================================================================

// ErrAuthRejected marks a dial the server answered but refused for the
// account's credentials.
var ErrAuthRejected = errors.New("credentials rejected")

// MailboxSession is one authenticated connection to a mail server.
// A session is owned by exactly one run and is not safe for concurrent use.
type MailboxSession interface {
	// ListFolders returns folder names in server order.
	ListFolders(ctx context.Context) ([]string, error)
	// OpenReadOnly selects a folder without altering message state.
	OpenReadOnly(ctx context.Context, folder string) error
	// SearchAll returns every message id of the open folder in server order.
	SearchAll(ctx context.Context) ([]string, error)
	// Fetch retrieves the given ids with one request and hands each raw
	// message to fn as it arrives. An fn error stops the fetch.
	Fetch(ctx context.Context, ids []string, fn func(*domain.RawMessage) error) error
	Close() error
}

// SessionDialer opens and authenticates a session.
type SessionDialer interface {
	Dial(ctx context.Context, cfg *domain.SessionConfig) (MailboxSession, error)
}

// TokenFetcher supplies OAuth2 access tokens. An empty token means none is
// available and is not an error.
type TokenFetcher interface {
	FetchToken(ctx context.Context, domain, userID string) (string, error)
}
