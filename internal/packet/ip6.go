package packet

import (
	"fmt"
	"net/netip"
)

const ipv6HeaderLen = 40

var ipv6Fields = []Field{
	bitField("version", 0, 4, Constant),
	hexField("traffic_class", 4, 8, 0),
	hexField("flow_label", 12, 20, 0),
	bitField("payload_length", 32, 16, Derived),
	bitField("next_header", 48, 8, Selector),
	bitField("hop_limit", 56, 8, 0),
	addrField("src", 8, 16, formatIP),
	addrField("dst", 24, 16, formatIP),
}

// IPv6 is the fixed IPv6 header. Extension headers are left in the payload.
type IPv6 struct{ Node }

// IPv6 returns the node as an IPv6 header.
func (n Node) IPv6() (IPv6, bool) {
	return IPv6{n}, n.Kind() == KindIPv6
}

func (ip IPv6) Version() uint8        { return uint8(ip.bits(0, 4)) }
func (ip IPv6) TrafficClass() uint8   { return uint8(ip.bits(4, 8)) }
func (ip IPv6) FlowLabel() uint32     { return uint32(ip.bits(12, 20)) }
func (ip IPv6) PayloadLength() uint16 { return ip.u16(4) }
func (ip IPv6) NextHeader() IPProto   { return IPProto(ip.u8(6)) }
func (ip IPv6) HopLimit() uint8       { return ip.u8(7) }

func (ip IPv6) Source() netip.Addr {
	return netip.AddrFrom16([16]byte(ip.field(8, 16)))
}

func (ip IPv6) Destination() netip.Addr {
	return netip.AddrFrom16([16]byte(ip.field(24, 16)))
}

func (ip IPv6) SetVersion(v uint8)      { ip.setBits(0, 4, uint64(v)) }
func (ip IPv6) SetTrafficClass(v uint8) { ip.setBits(4, 8, uint64(v)) }

// SetFlowLabel panics if v does not fit in 20 bits.
func (ip IPv6) SetFlowLabel(v uint32) { ip.setBits(12, 20, uint64(v)) }

func (ip IPv6) SetPayloadLength(v uint16) { ip.setU16(4, v) }
func (ip IPv6) SetNextHeader(p IPProto)   { ip.setU8(6, uint8(p)) }
func (ip IPv6) SetHopLimit(v uint8)       { ip.setU8(7, v) }

func (ip IPv6) SetSource(a netip.Addr) error {
	if !a.Is6() {
		return fmt.Errorf("%w: ipv6 source %v", ErrInvalidArgument, a)
	}
	b := a.As16()
	ip.write(8, b[:])
	return nil
}

func (ip IPv6) SetDestination(a netip.Addr) error {
	if !a.Is6() {
		return fmt.Errorf("%w: ipv6 destination %v", ErrInvalidArgument, a)
	}
	b := a.As16()
	ip.write(24, b[:])
	return nil
}

func init() {
	register(&protocol{
		kind:   KindIPv6,
		fields: ipv6Fields,
		minLen: ipv6HeaderLen,
		headerLen: func(b []byte) int {
			if b[0]>>4 != 6 {
				return -1
			}
			return ipv6HeaderLen
		},
		extent: func(hdr []byte) (int, bool) {
			return ipv6HeaderLen + int(get16(hdr[4:])), true
		},
		next: func(hdr []byte) (Kind, error) {
			return kindForIPProto(IPProto(hdr[6]))
		},
		fix: func(n Node, content int) error {
			if content > 0xffff {
				return fmt.Errorf("%w: ipv6 payload length %d", ErrMalformedLength, content)
			}
			IPv6{n}.SetPayloadLength(uint16(content))
			return nil
		},
		link: func(n Node, child Kind) error {
			p, ok := ipProtoFor(child)
			if !ok {
				return fmt.Errorf("%w: ipv6 cannot carry %v", ErrInvalidArgument, child)
			}
			IPv6{n}.SetNextHeader(p)
			return nil
		},
		summary: func(n Node) string {
			ip := IPv6{n}
			return fmt.Sprintf("%v > %v %v hop=%d len=%d", ip.Source(), ip.Destination(), ip.NextHeader(), ip.HopLimit(), ip.PayloadLength())
		},
	})
}
