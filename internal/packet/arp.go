package packet

import (
	"fmt"
	"net"
	"net/netip"
)

const (
	arpHardwareEthernet = 1

	ARPRequest = 1
	ARPReply   = 2
)

func arpLen(hlen, plen int) int { return 8 + 2*(hlen+plen) }

// arpAddr locates the i-th address of the body: sender hardware, sender
// protocol, target hardware, target protocol.
func arpAddr(i int) func([]byte) (int, int, bool) {
	return func(hdr []byte) (int, int, bool) {
		hlen, plen := int(hdr[4]), int(hdr[5])
		sizes := [4]int{hlen, plen, hlen, plen}
		off := 8
		for j := 0; j < i; j++ {
			off += sizes[j]
		}
		return off * 8, sizes[i] * 8, sizes[i] > 0
	}
}

var arpFields = []Field{
	bitField("htype", 0, 16, 0),
	hexField("ptype", 16, 16, 0),
	bitField("hlen", 32, 8, Layout),
	bitField("plen", 40, 8, Layout),
	bitField("op", 48, 16, 0),
	{Name: "sender_hw", Width: 48, locate: arpAddr(0), format: formatMAC},
	{Name: "sender_proto", Width: 32, locate: arpAddr(1), format: formatIP},
	{Name: "target_hw", Width: 48, locate: arpAddr(2), format: formatMAC},
	{Name: "target_proto", Width: 32, locate: arpAddr(3), format: formatIP},
}

// ARP is an address resolution header. Address sizes follow hlen and plen.
type ARP struct{ Node }

// ARP returns the node as an ARP header.
func (n Node) ARP() (ARP, bool) {
	return ARP{n}, n.Kind() == KindARP
}

func (a ARP) HardwareType() uint16    { return a.u16(0) }
func (a ARP) ProtocolType() EtherType { return EtherType(a.u16(2)) }
func (a ARP) HardwareLen() int        { return int(a.u8(4)) }
func (a ARP) ProtocolLen() int        { return int(a.u8(5)) }
func (a ARP) Operation() uint16       { return a.u16(6) }

func (a ARP) SetHardwareType(v uint16)    { a.setU16(0, v) }
func (a ARP) SetProtocolType(t EtherType) { a.setU16(2, uint16(t)) }
func (a ARP) SetOperation(op uint16)      { a.setU16(6, op) }

func (a ARP) addr(i int) []byte {
	bitOff, width, _ := arpAddr(i)(a.Header())
	return append([]byte(nil), a.field(bitOff/8, width/8)...)
}

func (a ARP) setAddr(i int, b []byte) error {
	bitOff, width, _ := arpAddr(i)(a.Header())
	if len(b)*8 != width {
		return fmt.Errorf("%w: %d-byte ARP address, header declares %d", ErrInvalidArgument, len(b), width/8)
	}
	a.write(bitOff/8, b)
	return nil
}

func (a ARP) SenderHardwareAddr() net.HardwareAddr { return a.addr(0) }
func (a ARP) TargetHardwareAddr() net.HardwareAddr { return a.addr(2) }

// SenderProtocolAddr returns the sender protocol address. ok is false when
// plen is not an IP address size.
func (a ARP) SenderProtocolAddr() (netip.Addr, bool) { return netip.AddrFromSlice(a.addr(1)) }

// TargetProtocolAddr returns the target protocol address. ok is false when
// plen is not an IP address size.
func (a ARP) TargetProtocolAddr() (netip.Addr, bool) { return netip.AddrFromSlice(a.addr(3)) }

func (a ARP) SetSenderHardwareAddr(mac net.HardwareAddr) error { return a.setAddr(0, mac) }
func (a ARP) SetTargetHardwareAddr(mac net.HardwareAddr) error { return a.setAddr(2, mac) }
func (a ARP) SetSenderProtocolAddr(ip netip.Addr) error        { return a.setAddr(1, ip.AsSlice()) }
func (a ARP) SetTargetProtocolAddr(ip netip.Addr) error        { return a.setAddr(3, ip.AsSlice()) }

func init() {
	register(&protocol{
		kind:   KindARP,
		fields: arpFields,
		minLen: 8,
		headerLen: func(b []byte) int {
			return arpLen(int(b[4]), int(b[5]))
		},
		summary: func(n Node) string {
			a := ARP{n}
			spa, _ := a.SenderProtocolAddr()
			tpa, _ := a.TargetProtocolAddr()
			switch a.Operation() {
			case ARPRequest:
				return fmt.Sprintf("who-has %v tell %v", tpa, spa)
			case ARPReply:
				return fmt.Sprintf("%v is-at %v", spa, a.SenderHardwareAddr())
			}
			return fmt.Sprintf("op=%d %v > %v", a.Operation(), spa, tpa)
		},
	})
}
