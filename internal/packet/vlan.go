package packet

import "fmt"

const vlanHeaderLen = 4

var vlanFields = []Field{
	bitField("pcp", 0, 3, 0),
	bitField("dei", 3, 1, 0),
	bitField("vid", 4, 12, 0),
	hexField("ethertype", 16, 16, Selector),
}

// VLAN is an IEEE 802.1Q tag: the tag control information followed by the
// ethertype of the tagged frame. The 0x8100 TPID is the selector of the
// enclosing header.
type VLAN struct{ Node }

// VLAN returns the node as an 802.1Q tag.
func (n Node) VLAN() (VLAN, bool) {
	return VLAN{n}, n.Kind() == KindVLAN
}

func (v VLAN) Priority() uint8      { return uint8(v.bits(0, 3)) }
func (v VLAN) DropEligible() bool   { return v.bits(3, 1) != 0 }
func (v VLAN) ID() uint16           { return uint16(v.bits(4, 12)) }
func (v VLAN) EtherType() EtherType { return EtherType(v.u16(2)) }

// SetPriority panics if p does not fit in 3 bits.
func (v VLAN) SetPriority(p uint8) { v.setBits(0, 3, uint64(p)) }

func (v VLAN) SetDropEligible(on bool) {
	var b uint64
	if on {
		b = 1
	}
	v.setBits(3, 1, b)
}

// SetID panics if id does not fit in 12 bits.
func (v VLAN) SetID(id uint16) { v.setBits(4, 12, uint64(id)) }

func (v VLAN) SetEtherType(t EtherType) { v.setU16(2, uint16(t)) }

func init() {
	register(&protocol{
		kind:      KindVLAN,
		fields:    vlanFields,
		minLen:    vlanHeaderLen,
		headerLen: func([]byte) int { return vlanHeaderLen },
		next: func(hdr []byte) (Kind, error) {
			t := EtherType(get16(hdr[2:]))
			if t <= 1500 {
				return KindUnknown, nil
			}
			return kindForEtherType(t, false)
		},
		link: func(n Node, child Kind) error {
			t, ok := etherTypeFor(child, false)
			if !ok {
				return fmt.Errorf("%w: vlan cannot carry %v", ErrInvalidArgument, child)
			}
			VLAN{n}.SetEtherType(t)
			return nil
		},
		summary: func(n Node) string {
			v := VLAN{n}
			return fmt.Sprintf("vid=%d pcp=%d %v", v.ID(), v.Priority(), v.EtherType())
		},
	})
}
