// Package ipallow restricts a route group to requests originating from a
// configured set of source addresses. It protects the inference callback
// endpoint, which is unauthenticated but must only be reachable from the
// inference service's network.
package ipallow

import (
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// List holds the resolved allow-list. Entries are single addresses or CIDR
// ranges; loopback sources are always allowed so local development works
// without configuration.
type List struct {
	ips  []net.IP
	nets []*net.IPNet
}

// New parses allow-list entries. Each entry is either an IP address
// ("10.2.0.4") or a CIDR range ("10.2.0.0/16").
func New(entries []string) (*List, error) {
	l := &List{}
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			l.nets = append(l.nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid allow-list entry %q", entry)
		}
		l.ips = append(l.ips, ip)
	}
	return l, nil
}

// Allowed reports whether the given source address may reach the protected
// routes.
func (l *List) Allowed(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, allowed := range l.ips {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, ipnet := range l.nets {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from sources outside the allow-list with
// 403. The rejection is logged with the offending address.
func (l *List) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !l.Allowed(ip) {
				log.Warn().
					Str("remote_ip", ip).
					Str("path", c.Request().URL.Path).
					Msg("rejected callback from untrusted source")
				return echo.NewHTTPError(http.StatusForbidden, "source address not allowed")
			}
			return next(c)
		}
	}
}
