// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package acl decides whether a connecting TCP peer is allowed to open a
// session, matching the patterns rsyslog calls "permitted senders."
package acl

import (
	"net"
	"strings"
)

// Peer is a single permitted-peer entry: either a dotted/CIDR address
// pattern or a verified-name pattern (hostname or TLS peer name), each
// supporting a single leading "*" wildcard.
type Peer struct {
	Pattern string

	ipNet *net.IPNet
	ip    net.IP
}

// NewPeer compiles a permitted-peer pattern. CIDR patterns ("10.0.0.0/8")
// and bare IPs are matched against the connection's address; anything else
// is treated as a hostname/TLS-name glob with an optional leading "*".
func NewPeer(pattern string) Peer {
	p := Peer{Pattern: pattern}
	if _, ipnet, err := net.ParseCIDR(pattern); err == nil {
		p.ipNet = ipnet
		return p
	}
	if ip := net.ParseIP(pattern); ip != nil {
		p.ip = ip
		return p
	}
	return p
}

func (p Peer) matchesAddr(addr net.IP) bool {
	if p.ipNet != nil {
		return p.ipNet.Contains(addr)
	}
	if p.ip != nil {
		return p.ip.Equal(addr)
	}
	return false
}

func (p Peer) matchesName(name string) bool {
	if p.ip != nil || p.ipNet != nil {
		return false
	}
	name = strings.ToLower(name)
	pattern := strings.ToLower(p.Pattern)
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(name, pattern[1:])
	}
	return name == pattern
}

// List is an ordered allow-list for one transport label ("TCP"). Matched
// by IsAllowed at accept time and again by the stream driver once a TLS
// peer name is available. On ambiguity -- matching both an allow and a
// deny entry -- deny always wins: List keeps allow and deny entries
// separately, explicit deny entries (prefixed "!") take priority over any
// allow match, and anything not matched is denied by default.
type List struct {
	allow []Peer
	deny  []Peer
}

// NewList builds an ACL from pattern strings. A pattern prefixed with "!"
// is a deny entry; everything else is an allow entry.
func NewList(patterns []string) *List {
	l := &List{}
	for _, raw := range patterns {
		if strings.HasPrefix(raw, "!") {
			l.deny = append(l.deny, NewPeer(raw[1:]))
		} else {
			l.allow = append(l.allow, NewPeer(raw))
		}
	}
	return l
}

// Empty reports whether no restrictions were configured. An empty list
// permits everyone -- the historical rsyslog default when no
// PermittedPeer directives are present.
func (l *List) Empty() bool {
	return l == nil || (len(l.allow) == 0 && len(l.deny) == 0)
}

// IsAllowed decides whether addr/fqdn may open a session. name, when
// non-empty, is the verified TLS peer name and is checked in addition to
// the address and FQDN. resolveDNS indicates whether the caller was able
// to resolve fqdn; if it could not and a hostname pattern is configured,
// the peer is denied rather than treated as unmatched.
func IsAllowed(l *List, addr net.IP, fqdn string, name string, resolveDNS bool) bool {
	if l.Empty() {
		return true
	}

	for _, d := range l.deny {
		if matchAny(d, addr, fqdn, name, resolveDNS) {
			return false
		}
	}
	for _, a := range l.allow {
		if matchAny(a, addr, fqdn, name, resolveDNS) {
			return true
		}
	}
	return false
}

func matchAny(p Peer, addr net.IP, fqdn, name string, resolveDNS bool) bool {
	if addr != nil && p.matchesAddr(addr) {
		return true
	}
	if name != "" && p.matchesName(name) {
		return true
	}
	if fqdn != "" && resolveDNS && p.matchesName(fqdn) {
		return true
	}
	return false
}
