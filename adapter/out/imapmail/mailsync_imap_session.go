// Package imapmail implements mailbox sessions over IMAP4rev1/rev2.
package imapmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Authenticate(saslClient sasl.Client) error
	Logout() commandWaiter
	Close() error
	List(ref, pattern string, options *imap.ListOptions) listWaiter
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type listWaiter interface {
	Collect() ([]*imap.ListData, error)
}
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
}

// Dialer opens authenticated IMAP sessions over implicit TLS.
type Dialer struct {
	dialTimeout time.Duration
	newClient   func(cfg *domain.SessionConfig) (imapClient, error)
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

func withClientFactory(factory func(*domain.SessionConfig) (imapClient, error)) DialerOption {
	return func(d *Dialer) {
		d.newClient = factory
	}
}

func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{dialTimeout: 15 * time.Second}
	d.newClient = d.defaultClientFactory
	for _, opt := range opts {
		opt(d)
	}
	if d.newClient == nil {
		d.newClient = d.defaultClientFactory
	}
	return d
}

// Dial connects and authenticates. The session closes itself when ctx ends.
func (d *Dialer) Dial(ctx context.Context, cfg *domain.SessionConfig) (out.MailboxSession, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, apperr.SessionError("", errors.New("imap session missing host"))
	}

	client, err := d.newClient(cfg)
	if err != nil {
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("imap connect: %w", err))
	}

	if err := authenticate(client, cfg); err != nil {
		_ = client.Close()
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("imap auth: %w: %w", out.ErrAuthRejected, err))
	}

	s := &Session{client: client, host: cfg.Host}
	s.stop = context.AfterFunc(ctx, func() { _ = client.Close() })
	return s, nil
}

func authenticate(client imapClient, cfg *domain.SessionConfig) error {
	switch cfg.Credential.Kind {
	case domain.CredentialOAuth2:
		return client.Authenticate(NewXOAuth2Client(cfg.Username, cfg.Credential.Secret))
	case domain.CredentialPassword:
		return client.Login(cfg.Username, cfg.Credential.Secret).Wait()
	default:
		return fmt.Errorf("unknown credential kind %q", cfg.Credential.Kind)
	}
}

func (d *Dialer) defaultClientFactory(cfg *domain.SessionConfig) (imapClient, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // self-signed mail hosts are accepted
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: d.dialTimeout}, "tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	client := imapclient.New(conn, nil)
	if err := client.WaitGreeting(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

// Session is one selected-state IMAP connection. Ids are UIDs.
type Session struct {
	client imapClient
	host   string
	folder string
	stop   func() bool
}

func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	boxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap list: %w", err)
	}
	names := make([]string, 0, len(boxes))
	for _, b := range boxes {
		names = append(names, b.Mailbox)
	}
	return names, nil
}

func (s *Session) OpenReadOnly(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return fmt.Errorf("imap examine %s: %w", folder, err)
	}
	s.folder = folder
	return nil
}

func (s *Session) SearchAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return ids, nil
}

// Fetch issues one UID FETCH for the whole batch.
func (s *Session) Fetch(ctx context.Context, ids []string, fn func(*domain.RawMessage) error) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return fmt.Errorf("imap fetch: bad uid %q: %w", id, err)
		}
		uids = append(uids, imap.UID(n))
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{wholeMessage},
	}
	bufs, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	for _, buf := range bufs {
		raw := &domain.RawMessage{
			ServerID:     strconv.FormatUint(uint64(buf.UID), 10),
			InternalDate: buf.InternalDate,
			Body:         wholeBody(buf),
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

// wholeMessage is BODY.PEEK[], which leaves \Seen untouched even on
// servers that ignore EXAMINE.
var wholeMessage = &imap.FetchItemBodySection{Peek: true}

// wholeBody returns the BODY[] bytes. Servers answer a PEEK request with
// plain BODY[], so the only section is taken when the lookup misses.
func wholeBody(buf *imapclient.FetchMessageBuffer) []byte {
	if body := buf.FindBodySection(wholeMessage); body != nil {
		return body
	}
	if len(buf.BodySection) == 1 {
		return buf.BodySection[0].Bytes
	}
	return nil
}

func (s *Session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	logoutErr := s.client.Logout().Wait()
	closeErr := s.client.Close()
	if logoutErr != nil {
		return fmt.Errorf("imap logout: %w", logoutErr)
	}
	return closeErr
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) List(ref, pattern string, options *imap.ListOptions) listWaiter {
	return w.Client.List(ref, pattern, options)
}
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
