// Package ifconfig applies (Setup) or purges (Teardown) DHCP-derived
// addressing on an interface inside a target network namespace.
package ifconfig

import (
	"fmt"
	"math"
	"math/bits"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/containers/nv-dhcp-proxy/internal/ifconfig/netns"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
)

// permanentValidLft is the kernel's IFA_CACHEINFO.ifa_valid sentinel for an
// address with no expiry, as netlink reports it. It is not the Go zero
// value: ValidLft == 0 means "no lifetime information available", not
// "forever".
const permanentValidLft = math.MaxUint32

// isPermanentAddr reports whether a carries an infinite valid lifetime and
// so must survive Teardown.
func isPermanentAddr(a netlink.Addr) bool {
	return a.ValidLft == permanentValidLft
}

// DefaultMetric is the base route metric for the first gateway; each
// subsequent gateway in declaration order gets DefaultMetric+index, so
// multiple gateways get distinct, stable metrics.
const DefaultMetric = 500

// RouteTable is the routing table default-route installs target.
const RouteTable = 254

// RouteProtocol marks DHCP-installed routes, so Teardown can find exactly
// the routes this package owns without disturbing others on the link.
// RTPROT_STATIC(4)+13 avoids colliding with kernel-assigned protocol IDs;
// it plays the role of a descriptive "dhcp" protocol marker.
const RouteProtocol = 17

// Setup installs l's address and default routes onto ifaceName inside the
// namespace at nsPath.
func Setup(l lease.Lease, ifaceName, nsPath string) error {
	err := netns.WithNetNSPath(nsPath, func() error {
		link, err := netlink.LinkByName(ifaceName)
		if err != nil {
			return fmt.Errorf("find interface %q: %w", ifaceName, err)
		}

		addr, err := buildAddr(l)
		if err != nil {
			return err
		}

		if err := netlink.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("add address %s to %q: %w", addr.IPNet, ifaceName, err)
		}

		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("set %q up: %w", ifaceName, err)
		}

		for i, gw := range l.Gateways {
			gwIP := net.ParseIP(gw)
			if gwIP == nil {
				continue
			}
			route := &netlink.Route{
				LinkIndex: link.Attrs().Index,
				Dst:       nil, // 0.0.0.0/0
				Gw:        gwIP,
				Table:     RouteTable,
				Protocol:  RouteProtocol,
				Priority:  DefaultMetric + i,
			}
			if err := netlink.RouteAdd(route); err != nil {
				return fmt.Errorf("add default route via %s on %q: %w", gw, ifaceName, err)
			}
		}

		return nil
	})
	if err != nil {
		return nverrors.Wrap(nverrors.Internal, err, "apply interface configuration")
	}
	return nil
}

// Teardown removes every non-permanent address and every DHCP-owned
// default route on ifaceName inside the namespace at nsPath.
func Teardown(ifaceName, nsPath string) error {
	err := netns.WithNetNSPath(nsPath, func() error {
		link, err := netlink.LinkByName(ifaceName)
		if err != nil {
			return fmt.Errorf("find interface %q: %w", ifaceName, err)
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return fmt.Errorf("list addresses on %q: %w", ifaceName, err)
		}
		for _, a := range addrs {
			if isPermanentAddr(a) {
				continue
			}
			if err := netlink.AddrDel(link, &a); err != nil {
				return fmt.Errorf("remove address %s from %q: %w", a.IPNet, ifaceName, err)
			}
		}

		routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
		if err != nil {
			return fmt.Errorf("list routes on %q: %w", ifaceName, err)
		}
		for _, r := range routes {
			if r.LinkIndex != link.Attrs().Index {
				continue
			}
			if r.Protocol != RouteProtocol {
				continue
			}
			route := r
			if err := netlink.RouteDel(&route); err != nil {
				return fmt.Errorf("remove route %s on %q: %w", r.Dst, ifaceName, err)
			}
		}

		return nil
	})
	if err != nil {
		return nverrors.Wrap(nverrors.Internal, err, "purge interface configuration")
	}
	return nil
}

func buildAddr(l lease.Lease) (*netlink.Addr, error) {
	ip := net.ParseIP(l.YIAddr)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid yiaddr %q", l.YIAddr)
	}

	prefixLen, err := prefixLenFromMask(l.SubnetMask)
	if err != nil {
		return nil, err
	}

	ipNet := &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(prefixLen, 32)}

	lft := int(l.LeaseTime)
	return &netlink.Addr{
		IPNet:       ipNet,
		ValidLft:    lft,
		PreferedLft: lft,
	}, nil
}

// prefixLenFromMask computes the prefix length as the population count of
// the 32-bit mask. Non-contiguous masks produce an unspecified but
// non-panicking result, as permitted by spec.
func prefixLenFromMask(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil || ip.To4() == nil {
		return 0, fmt.Errorf("invalid subnet mask %q", mask)
	}
	v4 := ip.To4()
	var raw uint32
	for _, b := range v4 {
		raw = raw<<8 | uint32(b)
	}
	return bits.OnesCount32(raw), nil
}
