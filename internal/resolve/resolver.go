// Package resolve derives the public origin of an inbound request so that
// root-relative storage locations can be turned into absolute URLs.
package resolve

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

const (
	HeaderForwardedHost  = "X-Forwarded-Host"
	HeaderForwardedProto = "X-Forwarded-Proto"
)

// DefaultTrustedProxies only trusts a proxy running on the same host.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128"}

// Resolver computes public origins. Forwarded headers are honored only when
// the immediate peer is one of the trusted proxies.
type Resolver struct {
	trusted []netip.Prefix
}

// New parses trusted proxy entries, each either a CIDR prefix or a bare IP
// address.
func New(trustedProxies []string) (*Resolver, error) {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return &Resolver{trusted: prefixes}, nil
}

// Trusts reports whether remoteAddr (host:port or a bare IP) belongs to a
// trusted proxy.
func (r *Resolver) Trusts(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Origin returns the scheme and host clients used to reach the service.
func (r *Resolver) Origin(req *http.Request) *url.URL {
	if r.Trusts(req.RemoteAddr) {
		if host := firstValue(req.Header.Get(HeaderForwardedHost)); host != "" {
			scheme := strings.ToLower(firstValue(req.Header.Get(HeaderForwardedProto)))
			if scheme != "http" && scheme != "https" {
				scheme = "https"
			}
			return &url.URL{Scheme: scheme, Host: host}
		}
	}

	host := req.Host
	scheme := "https"
	if req.TLS == nil && isDevelopmentHost(host) {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// Resolve joins a root-relative location onto origin. Absolute locations
// and a nil origin leave location unchanged.
func Resolve(origin *url.URL, location string) string {
	if origin == nil || location == "" {
		return location
	}

	loc, err := url.Parse(location)
	if err != nil || loc.IsAbs() {
		return location
	}
	return origin.ResolveReference(loc).String()
}

func firstValue(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

// isDevelopmentHost reports whether host refers to the local machine or a
// private network, which are assumed to be served over plain HTTP.
func isDevelopmentHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified()
}
