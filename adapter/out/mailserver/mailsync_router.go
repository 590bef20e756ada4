// Package mailserver routes session dials to the protocol adapter a
// provider speaks, behind a circuit breaker per server host.
package mailserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/resilience"
)

// Router implements out.SessionDialer over IMAP and POP3 dialers.
type Router struct {
	imap     out.SessionDialer
	pop3     out.SessionDialer
	breakers *resilience.Registry
}

func NewRouter(imap, pop3 out.SessionDialer, breakers *resilience.Registry) *Router {
	if breakers == nil {
		breakers = resilience.NewRegistry(BreakerConfig())
	}
	return &Router{imap: imap, pop3: pop3, breakers: breakers}
}

func (r *Router) Dial(ctx context.Context, cfg *domain.SessionConfig) (out.MailboxSession, error) {
	if cfg == nil {
		return nil, apperr.SessionError("", errors.New("nil session config"))
	}

	var dialer out.SessionDialer
	switch cfg.Protocol {
	case domain.ProtocolIMAP, "":
		dialer = r.imap
	case domain.ProtocolPOP3:
		dialer = r.pop3
	default:
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("unsupported protocol %q", cfg.Protocol))
	}
	if dialer == nil {
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("no dialer for protocol %q", cfg.Protocol))
	}

	key := BreakerKey(cfg)
	sess, err := resilience.Execute(r.breakers, key, func() (out.MailboxSession, error) {
		return dialer.Dial(ctx, cfg)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperr.SessionError(cfg.Host, fmt.Errorf("%s: %w", key, err))
	}
	return sess, err
}

// BreakerConfig returns the breaker settings for mail server dials. Only
// connect, TLS and greeting failures count toward tripping.
func BreakerConfig() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig()
	cfg.IsSuccessful = hostReachable
	return cfg
}

// hostReachable is true for dial errors caused by the account or the
// caller rather than the server.
func hostReachable(err error) bool {
	return errors.Is(err, out.ErrAuthRejected) || errors.Is(err, context.Canceled)
}

// BreakerKey identifies a server endpoint.
func BreakerKey(cfg *domain.SessionConfig) string {
	return string(cfg.Protocol) + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}
