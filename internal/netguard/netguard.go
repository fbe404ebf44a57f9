// Package netguard validates outbound URLs before the gateway fetches them.
//
// Tool arguments routinely contain model-chosen URLs, so every fetch the tool
// layer performs on behalf of a session is treated as hostile input: private,
// loopback, link-local and cloud-metadata addresses are rejected both at
// parse time and again at dial time (after DNS resolution, so a hostname
// cannot launder a private address).
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrBlockedAddress is wrapped by every rejection so callers can classify
// SSRF refusals without string matching.
var ErrBlockedAddress = errors.New("netguard: address blocked")

// metadataHosts are well-known cloud metadata endpoints that must never be
// reachable through a tool, regardless of how they resolve.
var metadataHosts = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
}

// CheckURL rejects raw unless it is an absolute http(s) URL whose host is
// not an obviously private or metadata address. Hostnames are additionally
// resolved and every resulting IP checked.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("netguard: parse %q: %w", raw, err)
	}
	return Check(u)
}

// Check applies the same policy to an already-parsed URL.
func Check(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedAddress, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedAddress)
	}
	if _, bad := metadataHosts[host]; bad {
		return fmt.Errorf("%w: metadata endpoint %q", ErrBlockedAddress, host)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: host %q", ErrBlockedAddress, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	// Resolve and verify every address the name maps to.
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("netguard: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return fmt.Errorf("%w (via %q)", err, host)
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback %s", ErrBlockedAddress, ip)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private %s", ErrBlockedAddress, ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local %s", ErrBlockedAddress, ip)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified %s", ErrBlockedAddress, ip)
	}
	return nil
}

// Client returns an *http.Client whose dialer re-validates the resolved
// address on every connection. The parse-time check can be raced by DNS
// rebinding; the dial-time check cannot.
func Client(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			if ip := net.ParseIP(host); ip != nil {
				if err := checkIP(ip); err != nil {
					return nil, err
				}
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				if err := checkIP(tcp.IP); err != nil {
					conn.Close()
					return nil, err
				}
			}
			return conn, nil
		},
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("netguard: too many redirects")
			}
			return Check(req.URL)
		},
	}
}

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s"']+`)
	tokenPattern = regexp.MustCompile(`[A-Za-z0-9_-]{32,}`)
)

// Redact strips URLs and long token-like strings from a message before it is
// surfaced to a caller. Upstream error text regularly embeds the full request
// URL, which may carry query-string credentials.
func Redact(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "[url]")
	return tokenPattern.ReplaceAllString(msg, "[redacted]")
}

// AllowedDomain reports whether host (or a parent domain of it) appears in
// the allowlist. An empty allowlist permits nothing.
func AllowedDomain(host string, allowlist []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
