package swarm

import (
	"context"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
)

// resolveAddrs expands any dns4/dns6/dnsaddr component in addrs into
// the concrete ip4/ip6 addresses it names, so the dial queue only ever
// ranks and tracks addresses with a real host to connect to. Addresses
// that don't need resolution pass through unchanged.
func resolveAddrs(ctx context.Context, addrs []ma.Multiaddr) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if !madns.Matches(a) {
			out = append(out, a)
			continue
		}
		resolved, err := madns.DefaultResolver.Resolve(ctx, a)
		if err != nil {
			log.Debugf("swarm: resolve %s: %s", a, err)
			continue
		}
		out = append(out, resolved...)
	}
	return out
}
