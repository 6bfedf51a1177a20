package safe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// Resolver looks up the addresses for a hostname.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Reserved ranges not covered by the netip predicates.
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",       // "this" network
	"100.64.0.0/10",   // carrier-grade NAT
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"240.0.0.0/4",     // reserved, includes broadcast
	"64:ff9b::/96",    // NAT64
	"64:ff9b:1::/48",  // local-use NAT64
	"100::/64",        // discard-only
	"2001::/23",       // IETF protocol assignments
	"2001:db8::/32",   // documentation
	"2002::/16",       // 6to4
	"fec0::/10",       // deprecated site-local
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// IsBlockedAddr reports whether addr must never be dialed. IPv4-mapped IPv6
// addresses are judged by their IPv4 form.
func IsBlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	if addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsBlockedIP is IsBlockedAddr for net.IP values.
func IsBlockedIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	return IsBlockedAddr(addr)
}

func isUnsafe(err error) bool {
	return errors.Is(err, monitor.ErrUnsafeURL)
}

func unsafeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", monitor.ErrUnsafeURL, fmt.Sprintf(format, args...))
}

// ValidateURL applies the static URL checks: scheme, credentials, local host
// names, and the optional host allowlist. It does not resolve DNS.
func ValidateURL(rawURL string, allowedHosts []string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, unsafeErr("invalid url")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, unsafeErr("scheme %q is not allowed", parsed.Scheme)
	}
	if parsed.User != nil {
		return nil, unsafeErr("embedded credentials are not allowed")
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return nil, unsafeErr("missing host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return nil, unsafeErr("local host %q is not allowed", host)
	}
	if len(allowedHosts) > 0 && !hostAllowed(host, allowedHosts) {
		return nil, unsafeErr("host %q is not in the allowlist", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && IsBlockedAddr(addr) {
		return nil, unsafeErr("address %s is not public", addr)
	}
	return parsed, nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, h := range allowed {
		if strings.EqualFold(strings.TrimSuffix(h, "."), host) {
			return true
		}
	}
	return false
}

// resolvePublic returns the addresses for host, failing if any of them is
// blocked. Literal IPs are returned without a lookup. Lookup failures are
// transient and are not wrapped as unsafe.
func resolvePublic(ctx context.Context, resolver Resolver, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return nil, unsafeErr("address %s is not public", addr)
		}
		return []netip.Addr{addr.Unmap()}, nil
	}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip.IP)
		if !ok || IsBlockedAddr(addr) {
			return nil, unsafeErr("host %s resolves to non-public address %s", host, ip.IP)
		}
		out = append(out, addr.Unmap())
	}
	return out, nil
}
