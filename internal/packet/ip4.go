package packet

import (
	"fmt"
	"net/netip"
	"strings"
)

const (
	ipv4MinHeaderLen = 20
	ipv4MaxHeaderLen = 60
)

// IPv4 flag bits, as stored in the 3-bit flags field.
const (
	IPv4DontFragment  = 0x2
	IPv4MoreFragments = 0x1
)

var ipv4Fields = []Field{
	bitField("version", 0, 4, Constant),
	bitField("ihl", 4, 4, Derived|Layout),
	hexField("tos", 8, 8, 0),
	bitField("total_length", 16, 16, Derived),
	hexField("id", 32, 16, 0),
	bitField("flags", 48, 3, 0),
	bitField("frag_offset", 51, 13, 0),
	bitField("ttl", 64, 8, 0),
	bitField("protocol", 72, 8, Selector),
	hexField("checksum", 80, 16, Derived),
	addrField("src", 12, 4, formatIP),
	addrField("dst", 16, 4, formatIP),
	{Name: "options", locate: ipv4Options, format: formatBytes},
}

func ipv4Options(hdr []byte) (int, int, bool) {
	if len(hdr) <= ipv4MinHeaderLen {
		return 0, 0, false
	}
	return ipv4MinHeaderLen * 8, (len(hdr) - ipv4MinHeaderLen) * 8, true
}

// IPv4 is an IPv4 header including options.
type IPv4 struct{ Node }

// IPv4 returns the node as an IPv4 header.
func (n Node) IPv4() (IPv4, bool) {
	return IPv4{n}, n.Kind() == KindIPv4
}

func (ip IPv4) Version() uint8 { return ip.u8(0) >> 4 }

// IHL returns the header length in 32-bit words.
func (ip IPv4) IHL() uint8 { return ip.u8(0) & 0x0f }

func (ip IPv4) TOS() uint8             { return ip.u8(1) }
func (ip IPv4) TotalLength() uint16    { return ip.u16(2) }
func (ip IPv4) ID() uint16             { return ip.u16(4) }
func (ip IPv4) Flags() uint8           { return uint8(ip.bits(48, 3)) }
func (ip IPv4) FragmentOffset() uint16 { return uint16(ip.bits(51, 13)) }
func (ip IPv4) TTL() uint8             { return ip.u8(8) }
func (ip IPv4) Protocol() IPProto      { return IPProto(ip.u8(9)) }
func (ip IPv4) Checksum() uint16       { return ip.u16(10) }

func (ip IPv4) Source() netip.Addr {
	return netip.AddrFrom4([4]byte(ip.field(12, 4)))
}

func (ip IPv4) Destination() netip.Addr {
	return netip.AddrFrom4([4]byte(ip.field(16, 4)))
}

func (ip IPv4) Options() []byte {
	return append([]byte(nil), ip.Header()[ipv4MinHeaderLen:]...)
}

// IsFragment reports whether the packet is one piece of a fragmented
// datagram.
func (ip IPv4) IsFragment() bool {
	return ip.Flags()&IPv4MoreFragments != 0 || ip.FragmentOffset() != 0
}

func (ip IPv4) SetVersion(v uint8) { ip.setBits(0, 4, uint64(v)) }

// SetIHL writes the header length field without resizing the header.
// UpdateCalculatedValues overwrites it.
func (ip IPv4) SetIHL(v uint8) { ip.setBits(4, 4, uint64(v)) }

func (ip IPv4) SetTOS(v uint8)          { ip.setU8(1, v) }
func (ip IPv4) SetTotalLength(v uint16) { ip.setU16(2, v) }
func (ip IPv4) SetID(v uint16)          { ip.setU16(4, v) }

// SetFlags panics if v does not fit in 3 bits.
func (ip IPv4) SetFlags(v uint8) { ip.setBits(48, 3, uint64(v)) }

// SetFragmentOffset panics if v does not fit in 13 bits.
func (ip IPv4) SetFragmentOffset(v uint16) { ip.setBits(51, 13, uint64(v)) }

func (ip IPv4) SetTTL(v uint8)        { ip.setU8(8, v) }
func (ip IPv4) SetProtocol(p IPProto) { ip.setU8(9, uint8(p)) }
func (ip IPv4) SetChecksum(v uint16)  { ip.setU16(10, v) }

func (ip IPv4) SetSource(a netip.Addr) error {
	if !a.Is4() {
		return fmt.Errorf("%w: ipv4 source %v", ErrInvalidArgument, a)
	}
	b := a.As4()
	ip.write(12, b[:])
	return nil
}

func (ip IPv4) SetDestination(a netip.Addr) error {
	if !a.Is4() {
		return fmt.Errorf("%w: ipv4 destination %v", ErrInvalidArgument, a)
	}
	b := a.As4()
	ip.write(16, b[:])
	return nil
}

// SetOptions replaces the options, zero padded to a multiple of four bytes.
// The header is resized and IHL is updated.
func (ip IPv4) SetOptions(opts []byte) error {
	padded := (len(opts) + 3) &^ 3
	if ipv4MinHeaderLen+padded > ipv4MaxHeaderLen {
		return fmt.Errorf("%w: %d bytes of ipv4 options", ErrInvalidArgument, len(opts))
	}
	tail := make([]byte, padded)
	copy(tail, opts)
	ip.resize(ipv4MinHeaderLen + padded)
	ip.write(ipv4MinHeaderLen, tail)
	ip.SetIHL(uint8((ipv4MinHeaderLen + padded) / 4))
	return nil
}

func ipv4Summary(n Node) string {
	ip := IPv4{n}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v > %v %v ttl=%d len=%d", ip.Source(), ip.Destination(), ip.Protocol(), ip.TTL(), ip.TotalLength())
	if ip.IsFragment() {
		fmt.Fprintf(&sb, " frag=%d", int(ip.FragmentOffset())*8)
		if ip.Flags()&IPv4MoreFragments != 0 {
			sb.WriteString("+")
		}
	}
	return sb.String()
}

func init() {
	register(&protocol{
		kind:   KindIPv4,
		fields: ipv4Fields,
		minLen: ipv4MinHeaderLen,
		headerLen: func(b []byte) int {
			if b[0]>>4 != 4 {
				return -1
			}
			l := int(b[0]&0x0f) * 4
			if l < ipv4MinHeaderLen {
				return -1
			}
			return l
		},
		extent: func(hdr []byte) (int, bool) {
			return int(get16(hdr[2:])), true
		},
		next: func(hdr []byte) (Kind, error) {
			if getBits(hdr, 51, 13) != 0 {
				// Only the first fragment carries the upper layer header.
				return KindUnknown, nil
			}
			return kindForIPProto(IPProto(hdr[9]))
		},
		fix: func(n Node, content int) error {
			ip := IPv4{n}
			hl := n.HeaderLen()
			total := hl + content
			if total > 0xffff {
				return fmt.Errorf("%w: ipv4 total length %d", ErrMalformedLength, total)
			}
			ip.SetIHL(uint8(hl / 4))
			ip.SetTotalLength(uint16(total))
			return nil
		},
		link: func(n Node, child Kind) error {
			p, ok := ipProtoFor(child)
			if !ok {
				return fmt.Errorf("%w: ipv4 cannot carry %v", ErrInvalidArgument, child)
			}
			IPv4{n}.SetProtocol(p)
			return nil
		},
		csum:    &checksumRule{cover: coverHeader, offset: fixedOffset(10)},
		summary: ipv4Summary,
	})
}
