package packet

import (
	"fmt"
	"net"
	"net/netip"

	"example.com/pktchain/internal/segment"
)

// add appends a header of kind to the chain and points the previous header's
// selector at it. The first header decides the link type.
func (c *Chain) add(kind Kind, hdr []byte) (Node, error) {
	if last, ok := c.Last(); ok {
		lp := protoFor(last.Kind())
		if lp.terminal() || lp.link == nil {
			return Node{}, fmt.Errorf("%w: %v cannot follow %v", ErrInvalidArgument, kind, last.Kind())
		}
		if err := lp.link(last, kind); err != nil {
			return Node{}, err
		}
	} else {
		link, ok := linkFor(kind)
		if !ok {
			return Node{}, fmt.Errorf("%w: %v cannot start a chain", ErrInvalidArgument, kind)
		}
		c.link = link
	}
	c.nodes = append(c.nodes, node{kind: kind, hdr: segment.NewOwned(hdr).View()})
	c.pending = true
	return Node{c: c, i: len(c.nodes) - 1}, nil
}

func (c *Chain) AddEthernet(src, dst net.HardwareAddr) (Ethernet, error) {
	if len(src) != 6 || len(dst) != 6 {
		return Ethernet{}, fmt.Errorf("%w: ethernet addresses of %d and %d bytes", ErrInvalidArgument, len(src), len(dst))
	}
	hdr := make([]byte, ethernetHeaderLen)
	copy(hdr[0:6], dst)
	copy(hdr[6:12], src)
	n, err := c.add(KindEthernet, hdr)
	return Ethernet{n}, err
}

// AddARP appends an Ethernet/IPv4 ARP message.
func (c *Chain) AddARP(op uint16, sha net.HardwareAddr, spa netip.Addr, tha net.HardwareAddr, tpa netip.Addr) (ARP, error) {
	if len(sha) != 6 || len(tha) != 6 {
		return ARP{}, fmt.Errorf("%w: arp hardware addresses of %d and %d bytes", ErrInvalidArgument, len(sha), len(tha))
	}
	if !spa.Is4() || !tpa.Is4() {
		return ARP{}, fmt.Errorf("%w: arp protocol addresses %v and %v", ErrInvalidArgument, spa, tpa)
	}
	hdr := make([]byte, arpLen(6, 4))
	put16(hdr[0:], arpHardwareEthernet)
	put16(hdr[2:], uint16(EtherTypeIPv4))
	hdr[4], hdr[5] = 6, 4
	put16(hdr[6:], op)
	s4, t4 := spa.As4(), tpa.As4()
	copy(hdr[8:14], sha)
	copy(hdr[14:18], s4[:])
	copy(hdr[18:24], tha)
	copy(hdr[24:28], t4[:])
	n, err := c.add(KindARP, hdr)
	return ARP{n}, err
}

// AddIPv4 appends an IPv4 header with IHL 5 and TTL 64. Lengths and the
// checksum are left for UpdateCalculatedValues.
func (c *Chain) AddIPv4(src, dst netip.Addr) (IPv4, error) {
	if !src.Is4() || !dst.Is4() {
		return IPv4{}, fmt.Errorf("%w: ipv4 addresses %v and %v", ErrInvalidArgument, src, dst)
	}
	hdr := make([]byte, ipv4MinHeaderLen)
	hdr[0] = 4<<4 | ipv4MinHeaderLen/4
	hdr[8] = 64
	s, d := src.As4(), dst.As4()
	copy(hdr[12:16], s[:])
	copy(hdr[16:20], d[:])
	n, err := c.add(KindIPv4, hdr)
	return IPv4{n}, err
}

// AddIPv6 appends an IPv6 header with hop limit 64.
func (c *Chain) AddIPv6(src, dst netip.Addr) (IPv6, error) {
	if !src.Is6() || !dst.Is6() {
		return IPv6{}, fmt.Errorf("%w: ipv6 addresses %v and %v", ErrInvalidArgument, src, dst)
	}
	hdr := make([]byte, ipv6HeaderLen)
	hdr[0] = 6 << 4
	hdr[7] = 64
	s, d := src.As16(), dst.As16()
	copy(hdr[8:24], s[:])
	copy(hdr[24:40], d[:])
	n, err := c.add(KindIPv6, hdr)
	return IPv6{n}, err
}

// AddTCP appends a TCP header with data offset 5 and window 65535.
func (c *Chain) AddTCP(srcPort, dstPort uint16) (TCP, error) {
	hdr := make([]byte, tcpMinHeaderLen)
	put16(hdr[0:], srcPort)
	put16(hdr[2:], dstPort)
	hdr[12] = (tcpMinHeaderLen / 4) << 4
	put16(hdr[14:], 0xffff)
	n, err := c.add(KindTCP, hdr)
	return TCP{n}, err
}

func (c *Chain) AddUDP(srcPort, dstPort uint16) (UDP, error) {
	hdr := make([]byte, udpHeaderLen)
	put16(hdr[0:], srcPort)
	put16(hdr[2:], dstPort)
	n, err := c.add(KindUDP, hdr)
	return UDP{n}, err
}

func (c *Chain) AddICMPv4(typ, code uint8) (ICMPv4, error) {
	hdr := make([]byte, icmpv4HeaderLen)
	hdr[0], hdr[1] = typ, code
	n, err := c.add(KindICMPv4, hdr)
	return ICMPv4{n}, err
}

func (c *Chain) AddICMPv6(typ, code uint8) (ICMPv6, error) {
	hdr := make([]byte, icmpv6HeaderLen)
	hdr[0], hdr[1] = typ, code
	n, err := c.add(KindICMPv6, hdr)
	return ICMPv6{n}, err
}

// AddGRE appends a minimal GRE header with no optional fields.
func (c *Chain) AddGRE() (GRE, error) {
	n, err := c.add(KindGRE, make([]byte, greMinHeaderLen))
	return GRE{n}, err
}

// AddVLAN appends an 802.1Q tag with the given VLAN identifier and priority
// zero. It returns ErrInvalidArgument if id does not fit in 12 bits.
func (c *Chain) AddVLAN(id uint16) (VLAN, error) {
	if id > 0xfff {
		return VLAN{}, fmt.Errorf("%w: vlan id %d", ErrInvalidArgument, id)
	}
	hdr := make([]byte, vlanHeaderLen)
	put16(hdr, id)
	n, err := c.add(KindVLAN, hdr)
	return VLAN{n}, err
}
