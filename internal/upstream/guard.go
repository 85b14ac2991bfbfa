package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrBlocked is matched by every rejection from Guard.
var ErrBlocked = errors.New("upstream target blocked")

// BlockedError carries the rejected target and why.
type BlockedError struct {
	Target string
	Reason string
	Err    error
}

func (e *BlockedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrBlocked, e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrBlocked, e.Target, e.Reason)
}

func (e *BlockedError) Unwrap() error { return e.Err }

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// Resolver is the DNS surface Guard needs. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard decides whether a forward target is safe to contact. DNS failures
// and empty answers reject the target; there is no retry.
type Guard struct {
	requireHTTPS bool
	dnsTimeout   time.Duration
	resolver     Resolver
	dialer       *net.Dialer
	log          *zap.Logger
}

func NewGuard(requireHTTPS bool, dnsTimeout time.Duration, resolver Resolver, log *zap.Logger) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{
		requireHTTPS: requireHTTPS,
		dnsTimeout:   dnsTimeout,
		resolver:     resolver,
		dialer:       &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		log:          log,
	}
}

// Allowed reports whether rawURL passes Validate.
func (g *Guard) Allowed(ctx context.Context, rawURL string) bool {
	return g.Validate(ctx, rawURL) == nil
}

// Validate checks scheme, then resolves the host and requires every
// resolved address to be publicly routable.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return g.block(rawURL, "unparsable url", err)
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return g.block(rawURL, "url must be absolute with a host", nil)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if g.requireHTTPS {
			return g.block(rawURL, "https required", nil)
		}
	default:
		return g.block(rawURL, "unsupported scheme "+u.Scheme, nil)
	}

	addrs, err := g.resolve(ctx, u.Hostname())
	if err != nil {
		return g.block(rawURL, "dns resolution failed", err)
	}
	for _, a := range addrs {
		if !IsPublic(a) {
			return g.block(rawURL, "non-public address "+a.String(), nil)
		}
	}
	return nil
}

// DialContext resolves and vets the address again at connect time, then dials
// the vetted IP itself so a DNS answer cannot change between check and use.
func (g *Guard) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, g.block(address, "bad dial address", err)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, g.block(address, "dns resolution failed", err)
	}
	for _, a := range addrs {
		if !IsPublic(a) {
			return nil, g.block(address, "non-public address "+a.String(), nil)
		}
	}

	var lastErr error
	for _, a := range addrs {
		conn, err := g.dialer.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial %s: %w", address, lastErr)
}

func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	if g.dnsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.dnsTimeout)
		defer cancel()
	}
	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs, nil
}

func (g *Guard) block(target, reason string, err error) error {
	g.log.Warn("upstream target blocked",
		zap.String("target", target),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return &BlockedError{Target: target, Reason: reason, Err: err}
}
