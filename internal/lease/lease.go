// Package lease holds the canonical Lease record, MAC address type, and
// the conversion from a raw DHCPv4 acknowledgement into that record.
package lease

import (
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Lease is the canonical, JSON-serializable lease record. It is the wire
// shape returned by the RPC service and the shape persisted to the
// on-disk snapshot; IP addresses are always dotted-quad text so the
// snapshot is readable and stable across encodings.
type Lease struct {
	T1            uint32   `json:"t1"`
	T2            uint32   `json:"t2"`
	LeaseTime     uint32   `json:"lease_time"`
	MTU           uint32   `json:"mtu"`
	DomainName    string   `json:"domain_name"`
	HostName      string   `json:"host_name"`
	MACAddress    string   `json:"mac_address"`
	IsV6          bool     `json:"is_v6"`
	SIAddr        string   `json:"siaddr"`
	YIAddr        string   `json:"yiaddr"`
	SrvID         string   `json:"srv_id"`
	SubnetMask    string   `json:"subnet_mask"`
	BroadcastAddr string   `json:"broadcast_addr"`
	DNSServers    []string `json:"dns_servers"`
	Gateways      []string `json:"gateways"`
	NTPServers    []string `json:"ntp_servers"`
}

// NewLeaseFromDHCPv4 builds a Lease from a DHCPv4 acknowledgement packet.
// Fields absent from the packet become the empty string, zero, or an
// empty slice, never nil-vs-empty ambiguity on the wire.
func NewLeaseFromDHCPv4(ack *dhcpv4.DHCPv4) Lease {
	l := Lease{
		YIAddr:        ipString(ack.YourIPAddr),
		SIAddr:        ipString(ack.ServerIPAddr),
		SrvID:         ipString(ack.ServerIdentifier()),
		SubnetMask:    maskString(ack.SubnetMask()),
		BroadcastAddr: ipString(ack.BroadcastAddress()),
		DomainName:    ack.DomainName(),
		HostName:      ack.HostName(),
		DNSServers:    ipStrings(ack.DNS()),
		Gateways:      ipStrings(ack.Router()),
		NTPServers:    ipStrings(ack.NTPServers()),
		LeaseTime:     uint32(ack.IPAddressLeaseTime(0).Seconds()),
		T1:            uint32(ack.IPAddressRenewalTime(0).Seconds()),
		T2:            uint32(ack.IPAddressRebindingTime(0).Seconds()),
	}
	if mtu := ack.InterfaceMTU(); mtu > 0 {
		l.MTU = uint32(mtu)
	}
	return l
}

// WithMAC returns a copy of l with MACAddress set to mac's canonical form.
func (l Lease) WithMAC(mac MacAddress) Lease {
	l.MACAddress = mac.String()
	return l
}

// WithNames returns a copy of l with domain/host name overridden when the
// supplied values are non-empty (an empty override leaves the DHCP-supplied
// value, if any, untouched).
func (l Lease) WithNames(domainName, hostName string) Lease {
	if domainName != "" {
		l.DomainName = domainName
	}
	if hostName != "" {
		l.HostName = hostName
	}
	return l
}

// Zero returns a Lease with only MACAddress populated, used by Teardown
// to echo a response body when no lease is held for the MAC.
func Zero(mac MacAddress) Lease {
	return Lease{MACAddress: mac.String()}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func maskString(mask net.IPMask) string {
	if mask == nil {
		return ""
	}
	ones, bits := mask.Size()
	if bits == 0 {
		return ""
	}
	ip := net.CIDRMask(ones, bits)
	return net.IP(ip).String()
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		out = append(out, ip.String())
	}
	return out
}
