package packet

import "fmt"

const (
	icmpv4HeaderLen = 8
	icmpv6HeaderLen = 4
)

// Common ICMP message types.
const (
	ICMPv4EchoReply    = 0
	ICMPv4Unreachable  = 3
	ICMPv4EchoRequest  = 8
	ICMPv4TimeExceeded = 11

	ICMPv6Unreachable     = 1
	ICMPv6TimeExceeded    = 3
	ICMPv6EchoRequest     = 128
	ICMPv6EchoReply       = 129
	ICMPv6NeighborSolicit = 135
	ICMPv6NeighborAdvert  = 136
)

var icmpv4Fields = []Field{
	bitField("type", 0, 8, 0),
	bitField("code", 8, 8, 0),
	hexField("checksum", 16, 16, Derived),
	hexField("rest", 32, 32, 0),
}

var icmpv6Fields = []Field{
	bitField("type", 0, 8, 0),
	bitField("code", 8, 8, 0),
	hexField("checksum", 16, 16, Derived),
}

// ICMPv4 is the 8-byte ICMPv4 header. The last four bytes depend on the
// message type and are exposed as one word.
type ICMPv4 struct{ Node }

// ICMPv4 returns the node as an ICMPv4 header.
func (n Node) ICMPv4() (ICMPv4, bool) {
	return ICMPv4{n}, n.Kind() == KindICMPv4
}

func (m ICMPv4) Type() uint8      { return m.u8(0) }
func (m ICMPv4) Code() uint8      { return m.u8(1) }
func (m ICMPv4) Checksum() uint16 { return m.u16(2) }
func (m ICMPv4) Rest() uint32     { return m.u32(4) }

// ID and Seq interpret the rest of the header as an echo message.
func (m ICMPv4) ID() uint16  { return m.u16(4) }
func (m ICMPv4) Seq() uint16 { return m.u16(6) }

func (m ICMPv4) SetType(v uint8)      { m.setU8(0, v) }
func (m ICMPv4) SetCode(v uint8)      { m.setU8(1, v) }
func (m ICMPv4) SetChecksum(v uint16) { m.setU16(2, v) }
func (m ICMPv4) SetRest(v uint32)     { m.setU32(4, v) }
func (m ICMPv4) SetID(v uint16)       { m.setU16(4, v) }
func (m ICMPv4) SetSeq(v uint16)      { m.setU16(6, v) }

// ICMPv6 is the 4-byte ICMPv6 header. The message body is payload.
type ICMPv6 struct{ Node }

// ICMPv6 returns the node as an ICMPv6 header.
func (n Node) ICMPv6() (ICMPv6, bool) {
	return ICMPv6{n}, n.Kind() == KindICMPv6
}

func (m ICMPv6) Type() uint8      { return m.u8(0) }
func (m ICMPv6) Code() uint8      { return m.u8(1) }
func (m ICMPv6) Checksum() uint16 { return m.u16(2) }

func (m ICMPv6) SetType(v uint8)      { m.setU8(0, v) }
func (m ICMPv6) SetCode(v uint8)      { m.setU8(1, v) }
func (m ICMPv6) SetChecksum(v uint16) { m.setU16(2, v) }

func icmpSummary(n Node) string {
	h := n.Header()
	return fmt.Sprintf("type=%d code=%d", h[0], h[1])
}

func init() {
	register(&protocol{
		kind:      KindICMPv4,
		fields:    icmpv4Fields,
		minLen:    icmpv4HeaderLen,
		headerLen: func([]byte) int { return icmpv4HeaderLen },
		csum:      &checksumRule{cover: coverRegion, offset: fixedOffset(2)},
		summary:   icmpSummary,
	})
	register(&protocol{
		kind:      KindICMPv6,
		fields:    icmpv6Fields,
		minLen:    icmpv6HeaderLen,
		headerLen: func([]byte) int { return icmpv6HeaderLen },
		csum:      &checksumRule{cover: coverPseudo, offset: fixedOffset(2), proto: IPProtoICMPv6},
		summary:   icmpSummary,
	})
}
