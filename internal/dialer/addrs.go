package dialer

import (
	"net"
	"net/netip"
	"strings"
)

// parseLiteral recognizes a host that is already an IP literal
// (including a bracketed IPv6 one) so resolution can be skipped.
func parseLiteral(host string, port uint16) ([]netip.AddrPort, bool) {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, false
	}
	return []netip.AddrPort{netip.AddrPortFrom(addr, port)}, true
}

// joinPort attaches the destination port to each resolved address,
// preserving resolver order.
func joinPort(ips []net.IP, port uint16) []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addrs = append(addrs, netip.AddrPortFrom(addr.Unmap(), port))
	}
	return addrs
}

// splitByPreference partitions addrs by address family. The family of
// the first address is the preferred batch; the other family is the
// fallback batch. Order within each batch is resolver order.
func splitByPreference(addrs []netip.AddrPort) (preferred, fallback []netip.AddrPort) {
	if len(addrs) == 0 {
		return nil, nil
	}
	prefer4 := addrs[0].Addr().Is4()
	for _, a := range addrs {
		if a.Addr().Is4() == prefer4 {
			preferred = append(preferred, a)
		} else {
			fallback = append(fallback, a)
		}
	}
	return preferred, fallback
}
