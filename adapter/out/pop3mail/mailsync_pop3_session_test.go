package pop3mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	authErr  error
	msgs     []pop3.MessageID
	bodies   map[int]string
	retrErr  error
	retrived []int
	quits    int
}

func (c *fakeConn) Auth(_, _ string) error { return c.authErr }
func (c *fakeConn) Quit() error            { c.quits++; return nil }
func (c *fakeConn) Uidl(int) ([]pop3.MessageID, error) {
	return c.msgs, nil
}
func (c *fakeConn) RetrRaw(id int) (*bytes.Buffer, error) {
	if c.retrErr != nil {
		return nil, c.retrErr
	}
	c.retrived = append(c.retrived, id)
	return bytes.NewBufferString(c.bodies[id]), nil
}

func config() *domain.SessionConfig {
	return &domain.SessionConfig{
		Username:   "bob@corp.example",
		Host:       "pop.corp.example",
		Port:       995,
		Protocol:   domain.ProtocolPOP3,
		Secure:     true,
		Credential: domain.Credential{Kind: domain.CredentialPassword, Secret: "pw"},
	}
}

func dial(t *testing.T, conn *fakeConn) *Session {
	t.Helper()
	d := NewDialer(withConnFactory(func(*domain.SessionConfig) (pop3Connection, error) { return conn, nil }))
	sess, err := d.Dial(context.Background(), config())
	require.NoError(t, err)
	return sess.(*Session)
}

func TestPOP3SessionFlow(t *testing.T) {
	conn := &fakeConn{
		msgs:   []pop3.MessageID{{ID: 1, UID: "abc"}, {ID: 2, UID: ""}},
		bodies: map[int]string{1: "first", 2: "second"},
	}
	sess := dial(t, conn)
	ctx := context.Background()

	folders, err := sess.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX"}, folders)

	require.Error(t, sess.OpenReadOnly(ctx, "Sent"))
	require.NoError(t, sess.OpenReadOnly(ctx, "inbox"))

	ids, err := sess.SearchAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "2"}, ids)

	var got []string
	require.NoError(t, sess.Fetch(ctx, ids, func(raw *domain.RawMessage) error {
		got = append(got, raw.ServerID+"="+string(raw.Body))
		return nil
	}))
	require.Equal(t, []string{"abc=first", "2=second"}, got)
	require.Equal(t, []int{1, 2}, conn.retrived)

	require.NoError(t, sess.Close())
	require.Equal(t, 1, conn.quits)
}

func TestPOP3SearchRequiresOpen(t *testing.T) {
	sess := dial(t, &fakeConn{})
	_, err := sess.SearchAll(context.Background())
	require.Error(t, err)
}

func TestPOP3DialErrors(t *testing.T) {
	t.Run("oauth2 rejected", func(t *testing.T) {
		cfg := config()
		cfg.Credential = domain.Credential{Kind: domain.CredentialOAuth2, Secret: "tok"}
		_, err := NewDialer().Dial(context.Background(), cfg)
		require.True(t, apperr.IsCode(err, apperr.CodeSessionError))
		require.ErrorIs(t, err, ErrOAuth2Unsupported)
		require.ErrorIs(t, err, out.ErrAuthRejected)
	})

	t.Run("auth failure quits", func(t *testing.T) {
		conn := &fakeConn{authErr: errors.New("-ERR invalid password")}
		d := NewDialer(withConnFactory(func(*domain.SessionConfig) (pop3Connection, error) { return conn, nil }))
		_, err := d.Dial(context.Background(), config())
		require.True(t, apperr.IsCode(err, apperr.CodeSessionError))
		require.ErrorIs(t, err, out.ErrAuthRejected)
		require.Equal(t, 1, conn.quits)
	})
}

func TestPOP3FetchUnknownID(t *testing.T) {
	sess := dial(t, &fakeConn{msgs: []pop3.MessageID{{ID: 1, UID: "a"}}})
	require.NoError(t, sess.OpenReadOnly(context.Background(), "INBOX"))
	_, err := sess.SearchAll(context.Background())
	require.NoError(t, err)

	err = sess.Fetch(context.Background(), []string{"zzz"}, func(*domain.RawMessage) error { return nil })
	require.ErrorContains(t, err, "unknown id")
}
