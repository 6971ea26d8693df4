package peer

import (
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// AddrInfo bundles a peer ID with the set of addresses it might be
// reachable at; it is the unit the dialer and Host.Connect operate on.
type AddrInfo struct {
	ID    ID
	Addrs []ma.Multiaddr
}

// SplitAddr splits a composite "/.../p2p/<id>" address into the address
// prefix and the trailing peer ID. Per the wire invariant, /p2p/ must be
// the last component if present at all.
func SplitAddr(m ma.Multiaddr) (ma.Multiaddr, ID) {
	if m == nil {
		return nil, ""
	}
	var (
		parts []ma.Multiaddr
		id    ID
	)
	ma.ForEach(m, func(c ma.Component) bool {
		if c.Protocol().Code == ma.P_P2P {
			pid, err := IDFromBytes(c.RawValue())
			if err == nil {
				id = pid
			}
			return true
		}
		parts = append(parts, c)
		return true
	})
	if len(parts) == 0 {
		return nil, id
	}
	out := ma.Join(parts...)
	return out, id
}

// AddrInfoFromP2pAddr splits a full "/.../p2p/<id>" address into an
// AddrInfo with a single address.
func AddrInfoFromP2pAddr(m ma.Multiaddr) (*AddrInfo, error) {
	transport, id := SplitAddr(m)
	if id == "" {
		return nil, ErrInvalidAddr
	}
	info := &AddrInfo{ID: id}
	if transport != nil {
		info.Addrs = []ma.Multiaddr{transport}
	}
	return info, nil
}

// AddrInfoToP2pAddrs expands an AddrInfo back into composite addresses,
// one per Addrs entry, each terminated by /p2p/<id>.
func AddrInfoToP2pAddrs(pi *AddrInfo) ([]ma.Multiaddr, error) {
	tail, err := ma.NewComponent("p2p", pi.ID.String())
	if err != nil {
		return nil, err
	}
	out := make([]ma.Multiaddr, 0, len(pi.Addrs))
	for _, a := range pi.Addrs {
		out = append(out, a.Encapsulate(tail))
	}
	return out, nil
}

func (pi AddrInfo) String() string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(pi.ID.String())
	b.WriteByte(':')
	b.WriteString(addrSliceString(pi.Addrs))
	b.WriteByte('}')
	return b.String()
}

func addrSliceString(addrs []ma.Multiaddr) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, a := range addrs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(']')
	return b.String()
}
