package packet

import (
	"fmt"
	"net"
)

const ethernetHeaderLen = 14

var ethernetFields = []Field{
	addrField("dst", 0, 6, formatMAC),
	addrField("src", 6, 6, formatMAC),
	hexField("ethertype", 96, 16, Selector),
}

// Ethernet is an Ethernet II header.
type Ethernet struct{ Node }

// Ethernet returns the node as an Ethernet header.
func (n Node) Ethernet() (Ethernet, bool) {
	return Ethernet{n}, n.Kind() == KindEthernet
}

func (e Ethernet) Destination() net.HardwareAddr {
	return append(net.HardwareAddr(nil), e.field(0, 6)...)
}

func (e Ethernet) Source() net.HardwareAddr {
	return append(net.HardwareAddr(nil), e.field(6, 6)...)
}

func (e Ethernet) SetDestination(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return fmt.Errorf("%w: ethernet address of %d bytes", ErrInvalidArgument, len(mac))
	}
	e.write(0, mac)
	return nil
}

func (e Ethernet) SetSource(mac net.HardwareAddr) error {
	if len(mac) != 6 {
		return fmt.Errorf("%w: ethernet address of %d bytes", ErrInvalidArgument, len(mac))
	}
	e.write(6, mac)
	return nil
}

func (e Ethernet) EtherType() EtherType { return EtherType(e.u16(12)) }

func (e Ethernet) SetEtherType(t EtherType) { e.setU16(12, uint16(t)) }

func init() {
	register(&protocol{
		kind:      KindEthernet,
		fields:    ethernetFields,
		minLen:    ethernetHeaderLen,
		headerLen: func([]byte) int { return ethernetHeaderLen },
		next: func(hdr []byte) (Kind, error) {
			t := EtherType(get16(hdr[12:]))
			if t <= 1500 {
				// 802.3 length field, the payload is LLC.
				return KindUnknown, nil
			}
			return kindForEtherType(t, false)
		},
		link: func(n Node, child Kind) error {
			t, ok := etherTypeFor(child, false)
			if !ok {
				return fmt.Errorf("%w: ethernet cannot carry %v", ErrInvalidArgument, child)
			}
			Ethernet{n}.SetEtherType(t)
			return nil
		},
		summary: func(n Node) string {
			e := Ethernet{n}
			return fmt.Sprintf("%v > %v %v", e.Source(), e.Destination(), e.EtherType())
		},
	})
}
