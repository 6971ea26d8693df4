// Package ma projects a multiformats multiaddress down to the fields the
// swarm actually reasons about: an optional host+port, a coarse transport
// tag, and whether it names a private or loopback network — the inputs to
// the dialer's address ranking table (spec.md §4.8).
package ma

import (
	"fmt"
	"net"

	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Transport is a coarse tag for the address's outermost dialable protocol.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportTCP
	TransportUDP
	TransportQUIC
	TransportWebTransport
	TransportWS
	TransportCircuitRelay
)

// TagFor inspects the protocol stack of m and returns the transport it is
// built on, the innermost concern for address ranking.
func TagFor(m multiaddr.Multiaddr) Transport {
	protos := m.Protocols()
	hasQuic, hasWebtransport, hasCircuit, hasUDP, hasTCP, hasWS := false, false, false, false, false, false
	for _, p := range protos {
		switch p.Code {
		case multiaddr.P_QUIC, multiaddr.P_QUIC_V1:
			hasQuic = true
		case multiaddr.P_WEBTRANSPORT:
			hasWebtransport = true
		case multiaddr.P_CIRCUIT:
			hasCircuit = true
		case multiaddr.P_UDP:
			hasUDP = true
		case multiaddr.P_TCP:
			hasTCP = true
		case multiaddr.P_WS, multiaddr.P_WSS:
			hasWS = true
		}
	}
	switch {
	case hasCircuit:
		return TransportCircuitRelay
	case hasWebtransport:
		return TransportWebTransport
	case hasQuic:
		return TransportQUIC
	case hasWS:
		return TransportWS
	case hasTCP:
		return TransportTCP
	case hasUDP:
		return TransportUDP
	default:
		return TransportUnknown
	}
}

// IsIP6 reports whether the address's first component names an IPv6 host.
func IsIP6(m multiaddr.Multiaddr) bool {
	if c, _ := multiaddr.SplitFirst(m); c != nil {
		return c.Protocol().Code == multiaddr.P_IP6
	}
	return false
}

// HostPort extracts the dialable "host:port" for TCP/UDP based addresses.
func HostPort(m multiaddr.Multiaddr) (string, bool) {
	ip, err := manet.ToIP(m)
	if err != nil {
		return "", false
	}
	var port int
	multiaddr.ForEach(m, func(c multiaddr.Component) bool {
		if c.Protocol().Code == multiaddr.P_TCP || c.Protocol().Code == multiaddr.P_UDP {
			port = int(be16(c.RawValue()))
			return false
		}
		return true
	})
	if port == 0 {
		return "", false
	}
	return fmt.Sprintf("%s:%d", ip.String(), port), true
}

func be16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// IsPrivate reports whether the host component names a private or
// loopback network (RFC1918 / link-local / loopback).
func IsPrivate(m multiaddr.Multiaddr) bool {
	ip, err := manet.ToIP(m)
	if err != nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// IsPublic is the complement of IsPrivate for addresses that resolve to an IP.
func IsPublic(m multiaddr.Multiaddr) bool {
	ip, err := manet.ToIP(m)
	if err != nil {
		return false
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified())
}

// ResolveUnspecified expands a wildcard bind address (e.g. 0.0.0.0) into the
// concrete addresses of the local network interfaces, filtering link-local
// IPv6. Used by the swarm's InterfaceListenAddresses, which recomputes
// the expansion on every call.
func ResolveUnspecified(m multiaddr.Multiaddr) ([]multiaddr.Multiaddr, error) {
	ip, err := manet.ToIP(m)
	if err != nil || !ip.IsUnspecified() {
		return []multiaddr.Multiaddr{m}, nil
	}

	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var out []multiaddr.Multiaddr
	for _, a := range ifaces {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.To4() == nil && ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if (ip.To4() == nil) != (ipNet.IP.To4() == nil) {
			continue // address family mismatch
		}
		resolved, err := manet.FromIP(ipNet.IP)
		if err != nil {
			continue
		}
		rest, _ := multiaddr.SplitFirst(m)
		_ = rest
		tail, err := tailAfterIP(m)
		if err != nil {
			continue
		}
		out = append(out, resolved.Encapsulate(tail))
	}
	if len(out) == 0 {
		return []multiaddr.Multiaddr{m}, nil
	}
	return out, nil
}

// tailAfterIP returns every component of m after the leading ip4/ip6.
func tailAfterIP(m multiaddr.Multiaddr) (multiaddr.Multiaddr, error) {
	var comps []multiaddr.Multiaddr
	first := true
	var outer error
	multiaddr.ForEach(m, func(c multiaddr.Component) bool {
		if first {
			first = false
			return true
		}
		comps = append(comps, c)
		return true
	})
	if len(comps) == 0 {
		return nil, fmt.Errorf("ma: no tail after ip component")
	}
	return multiaddr.Join(comps...), outer
}
