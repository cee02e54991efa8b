package packet

import "fmt"

const udpHeaderLen = 8

var udpFields = []Field{
	bitField("src_port", 0, 16, 0),
	bitField("dst_port", 16, 16, 0),
	bitField("length", 32, 16, Derived),
	hexField("checksum", 48, 16, Derived),
}

// UDP is a UDP header.
type UDP struct{ Node }

// UDP returns the node as a UDP header.
func (n Node) UDP() (UDP, bool) {
	return UDP{n}, n.Kind() == KindUDP
}

func (u UDP) SourcePort() uint16      { return u.u16(0) }
func (u UDP) DestinationPort() uint16 { return u.u16(2) }
func (u UDP) Length() uint16          { return u.u16(4) }
func (u UDP) Checksum() uint16        { return u.u16(6) }

func (u UDP) SetSourcePort(v uint16)      { u.setU16(0, v) }
func (u UDP) SetDestinationPort(v uint16) { u.setU16(2, v) }
func (u UDP) SetLength(v uint16)          { u.setU16(4, v) }
func (u UDP) SetChecksum(v uint16)        { u.setU16(6, v) }

func init() {
	register(&protocol{
		kind:      KindUDP,
		fields:    udpFields,
		minLen:    udpHeaderLen,
		headerLen: func([]byte) int { return udpHeaderLen },
		extent: func(hdr []byte) (int, bool) {
			return int(get16(hdr[4:])), true
		},
		fix: func(n Node, content int) error {
			l := udpHeaderLen + content
			if l > 0xffff {
				return fmt.Errorf("%w: udp length %d", ErrMalformedLength, l)
			}
			UDP{n}.SetLength(uint16(l))
			return nil
		},
		csum: &checksumRule{cover: coverPseudo, offset: fixedOffset(6), proto: IPProtoUDP},
		summary: func(n Node) string {
			u := UDP{n}
			return fmt.Sprintf("%d > %d len=%d", u.SourcePort(), u.DestinationPort(), u.Length())
		},
	})
}
