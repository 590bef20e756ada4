// Package pop3mail implements mailbox sessions over POP3.
// POP3 exposes a single mailbox, reported as INBOX.
package pop3mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"

	"github.com/knadh/go-pop3"
)

// Folder is the only folder a POP3 session exposes.
const Folder = "INBOX"

// ErrOAuth2Unsupported is returned for OAuth2 credentials; only USER/PASS is spoken.
var ErrOAuth2Unsupported = errors.New("pop3 does not support oauth2 credentials")

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
}

type connFactory func(cfg *domain.SessionConfig) (pop3Connection, error)

// Dialer opens authenticated POP3 sessions over implicit TLS.
type Dialer struct {
	dialTimeout time.Duration
	newConn     connFactory
}

// DialerOption customizes dialer behavior.
type DialerOption func(*Dialer)

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

func withConnFactory(factory connFactory) DialerOption {
	return func(d *Dialer) {
		d.newConn = factory
	}
}

func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{dialTimeout: 15 * time.Second}
	d.newConn = d.defaultConnFactory
	for _, opt := range opts {
		opt(d)
	}
	if d.newConn == nil {
		d.newConn = d.defaultConnFactory
	}
	return d
}

func (d *Dialer) Dial(ctx context.Context, cfg *domain.SessionConfig) (out.MailboxSession, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, apperr.SessionError("", errors.New("pop3 session missing host"))
	}
	if cfg.Credential.IsOAuth2() {
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("%w: %w", out.ErrAuthRejected, ErrOAuth2Unsupported))
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.SessionError(cfg.Host, err)
	}

	conn, err := d.newConn(cfg)
	if err != nil {
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("pop3 connect: %w", err))
	}
	if err := conn.Auth(cfg.Username, cfg.Credential.Secret); err != nil {
		_ = conn.Quit()
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("pop3 auth: %w: %w", out.ErrAuthRejected, err))
	}
	return &Session{conn: conn}, nil
}

func (d *Dialer) defaultConnFactory(cfg *domain.SessionConfig) (pop3Connection, error) {
	client := pop3.New(pop3.Opt{
		Host:          cfg.Host,
		Port:          cfg.Port,
		DialTimeout:   d.dialTimeout,
		TLSEnabled:    cfg.Secure,
		TLSSkipVerify: cfg.InsecureSkipVerify,
	})
	return client.NewConn()
}

// Session maps UIDL identifiers to POP3 message numbers.
type Session struct {
	conn   pop3Connection
	opened bool
	msgNum map[string]int
}

func (s *Session) ListFolders(context.Context) ([]string, error) {
	return []string{Folder}, nil
}

// OpenReadOnly accepts only INBOX. Messages are never deleted.
func (s *Session) OpenReadOnly(_ context.Context, folder string) error {
	if !strings.EqualFold(folder, Folder) {
		return fmt.Errorf("pop3 has no folder %q", folder)
	}
	s.opened = true
	return nil
}

func (s *Session) SearchAll(ctx context.Context) ([]string, error) {
	if !s.opened {
		return nil, errors.New("pop3 mailbox not opened")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := s.conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	s.msgNum = make(map[string]int, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		uid := m.UID
		if uid == "" {
			uid = strconv.Itoa(m.ID)
		}
		s.msgNum[uid] = m.ID
		ids = append(ids, uid)
	}
	return ids, nil
}

// Fetch retrieves each message with RETR; POP3 has no multi-message fetch.
func (s *Session) Fetch(ctx context.Context, ids []string, fn func(*domain.RawMessage) error) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		num, ok := s.msgNum[id]
		if !ok {
			return fmt.Errorf("pop3 retr: unknown id %q", id)
		}
		buf, err := s.conn.RetrRaw(num)
		if err != nil {
			return fmt.Errorf("pop3 retr %d: %w", num, err)
		}
		raw := &domain.RawMessage{ServerID: id, Body: append([]byte(nil), buf.Bytes()...)}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Close() error {
	if err := s.conn.Quit(); err != nil {
		return fmt.Errorf("pop3 quit: %w", err)
	}
	return nil
}
