// Package ipwhitelist is a minimal stdlib-based implementation of the IP
// whitelist contract spec.md §1 explicitly treats as an external
// collaborator (full CIDR/ACL parsing out of scope). It exists only so the
// dispatcher has something to consult for step 1 of spec.md §4.8 — a
// production deployment would swap this for whatever whitelist tooling the
// operator's platform already provides.
package ipwhitelist

import (
	"fmt"
	"net"
	"strings"
)

// List is a parsed allowedIps config value (spec.md §6): a comma-separated
// list of CIDRs or bare addresses, or "*" meaning allow-all.
type List struct {
	allowAll bool
	nets     []*net.IPNet
	ips      []net.IP
}

// Parse implements spec.md §6's allowedIps / prometheusAllowedIps syntax.
// Every entry must parse as either a CIDR or a bare IP address; any entry
// that doesn't is reported back in the returned error rather than silently
// dropped, so the caller can exit with spec.md §6's "1 invalid whitelist"
// process exit code instead of starting up with a silently narrower
// whitelist than the operator configured.
func Parse(csv string) (List, error) {
	csv = strings.TrimSpace(csv)
	if csv == "*" || csv == "" {
		return List{allowAll: true}, nil
	}

	var l List
	var bad []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			if _, ipnet, err := net.ParseCIDR(part); err == nil {
				l.nets = append(l.nets, ipnet)
				continue
			}
			bad = append(bad, part)
			continue
		}
		if ip := net.ParseIP(part); ip != nil {
			l.ips = append(l.ips, ip)
			continue
		}
		bad = append(bad, part)
	}
	if len(bad) > 0 {
		return List{}, fmt.Errorf("ipwhitelist: invalid entries: %s", strings.Join(bad, ", "))
	}
	return l, nil
}

// Allowed reports whether remoteAddr (an IP, with or without a port) is
// permitted.
func (l List) Allowed(remoteAddr string) bool {
	if l.allowAll {
		return true
	}

	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, known := range l.ips {
		if known.Equal(ip) {
			return true
		}
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
