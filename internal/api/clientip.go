package api //nolint:revive // package name is intentional

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxyList holds the proxies whose forwarding headers are believed.
type ProxyList []netip.Prefix

// ParseProxies parses IPs and CIDRs. Invalid entries are returned so the
// caller can report them.
func ParseProxies(values []string) (ProxyList, []string) {
	var (
		out     ProxyList
		invalid []string
	)
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				invalid = append(invalid, value)
				continue
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			invalid = append(invalid, value)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, invalid
}

func (p ProxyList) contains(addr netip.Addr) bool {
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address. Forwarding headers are only honored
// when the direct peer is a trusted proxy; X-Forwarded-For is walked from
// the right and the first untrusted hop wins.
func (p ProxyList) ClientIP(r *http.Request) string {
	remote := remoteHost(r.RemoteAddr)
	if remote == "" || len(p) == 0 {
		return remote
	}
	peer, ok := parseAddr(remote)
	if !ok || !p.contains(peer) {
		return remote
	}

	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		hops := strings.Split(header, ",")
		var leftmost string
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				continue
			}
			leftmost = addr.String()
			if !p.contains(addr) {
				return leftmost
			}
		}
		if leftmost != "" {
			return leftmost
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String()
	}
	return remote
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

func parseAddr(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(value); err == nil {
		return ap.Addr().Unmap().WithZone(""), true
	}
	addr, err := netip.ParseAddr(strings.Trim(value, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
