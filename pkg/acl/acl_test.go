package acl

import (
	"net"
	"testing"
)

func TestEmptyListAllowsEverything(t *testing.T) {
	l := NewList(nil)
	if !IsAllowed(l, net.ParseIP("203.0.113.5"), "", "", false) {
		t.Fatal("expected empty ACL to allow all peers")
	}
}

func TestCIDRMatch(t *testing.T) {
	l := NewList([]string{"10.0.0.0/8"})
	if !IsAllowed(l, net.ParseIP("10.1.2.3"), "", "", false) {
		t.Fatal("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if IsAllowed(l, net.ParseIP("192.168.1.1"), "", "", false) {
		t.Fatal("expected 192.168.1.1 to be denied")
	}
}

func TestWildcardNameMatch(t *testing.T) {
	l := NewList([]string{"*.example.com"})
	if !IsAllowed(l, nil, "", "host1.example.com", true) {
		t.Fatal("expected host1.example.com to match *.example.com")
	}
	if IsAllowed(l, nil, "", "host1.evil.com", true) {
		t.Fatal("expected host1.evil.com to be denied")
	}
}

func TestDenyWinsOnAmbiguity(t *testing.T) {
	l := NewList([]string{"*.example.com", "!bad.example.com"})
	if IsAllowed(l, nil, "", "bad.example.com", true) {
		t.Fatal("expected deny entry to win over allow entry")
	}
	if !IsAllowed(l, nil, "", "good.example.com", true) {
		t.Fatal("expected good.example.com to still be allowed")
	}
}

func TestUnresolvedHostnameDenied(t *testing.T) {
	l := NewList([]string{"*.example.com"})
	if IsAllowed(l, nil, "unresolved.example.com", "", false) {
		t.Fatal("expected unresolved hostname to be denied when resolution is required")
	}
}
