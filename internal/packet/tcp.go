package packet

import (
	"fmt"
	"strings"
)

const (
	tcpMinHeaderLen = 20
	tcpMaxHeaderLen = 60
)

// TCP flag bits, as stored in the 9-bit flags field.
const (
	TCPFin = 1 << iota
	TCPSyn
	TCPRst
	TCPPsh
	TCPAck
	TCPUrg
	TCPEce
	TCPCwr
	TCPNs
)

var tcpFields = []Field{
	bitField("src_port", 0, 16, 0),
	bitField("dst_port", 16, 16, 0),
	bitField("seq", 32, 32, 0),
	bitField("ack", 64, 32, 0),
	bitField("data_offset", 96, 4, Derived|Layout),
	bitField("reserved", 100, 3, 0),
	hexField("flags", 103, 9, 0),
	bitField("window", 112, 16, 0),
	hexField("checksum", 128, 16, Derived),
	bitField("urgent", 144, 16, 0),
	{Name: "options", locate: tcpOptions, format: formatBytes},
}

func tcpOptions(hdr []byte) (int, int, bool) {
	if len(hdr) <= tcpMinHeaderLen {
		return 0, 0, false
	}
	return tcpMinHeaderLen * 8, (len(hdr) - tcpMinHeaderLen) * 8, true
}

// TCP is a TCP header including options.
type TCP struct{ Node }

// TCP returns the node as a TCP header.
func (n Node) TCP() (TCP, bool) {
	return TCP{n}, n.Kind() == KindTCP
}

func (t TCP) SourcePort() uint16      { return t.u16(0) }
func (t TCP) DestinationPort() uint16 { return t.u16(2) }
func (t TCP) Seq() uint32             { return t.u32(4) }
func (t TCP) Ack() uint32             { return t.u32(8) }

// DataOffset returns the header length in 32-bit words.
func (t TCP) DataOffset() uint8 { return uint8(t.bits(96, 4)) }

func (t TCP) Reserved() uint8  { return uint8(t.bits(100, 3)) }
func (t TCP) Flags() uint16    { return uint16(t.bits(103, 9)) }
func (t TCP) Window() uint16   { return t.u16(14) }
func (t TCP) Checksum() uint16 { return t.u16(16) }
func (t TCP) Urgent() uint16   { return t.u16(18) }

func (t TCP) Options() []byte {
	return append([]byte(nil), t.Header()[tcpMinHeaderLen:]...)
}

func (t TCP) SetSourcePort(v uint16)      { t.setU16(0, v) }
func (t TCP) SetDestinationPort(v uint16) { t.setU16(2, v) }
func (t TCP) SetSeq(v uint32)             { t.setU32(4, v) }
func (t TCP) SetAck(v uint32)             { t.setU32(8, v) }

// SetDataOffset writes the header length field without resizing the header.
// UpdateCalculatedValues overwrites it.
func (t TCP) SetDataOffset(v uint8) { t.setBits(96, 4, uint64(v)) }

// SetReserved panics if v does not fit in 3 bits.
func (t TCP) SetReserved(v uint8) { t.setBits(100, 3, uint64(v)) }

// SetFlags panics if v does not fit in 9 bits.
func (t TCP) SetFlags(v uint16) { t.setBits(103, 9, uint64(v)) }

func (t TCP) SetWindow(v uint16)   { t.setU16(14, v) }
func (t TCP) SetChecksum(v uint16) { t.setU16(16, v) }
func (t TCP) SetUrgent(v uint16)   { t.setU16(18, v) }

// SetOptions replaces the options, zero padded to a multiple of four bytes.
// The header is resized and the data offset is updated.
func (t TCP) SetOptions(opts []byte) error {
	padded := (len(opts) + 3) &^ 3
	if tcpMinHeaderLen+padded > tcpMaxHeaderLen {
		return fmt.Errorf("%w: %d bytes of tcp options", ErrInvalidArgument, len(opts))
	}
	tail := make([]byte, padded)
	copy(tail, opts)
	t.resize(tcpMinHeaderLen + padded)
	t.write(tcpMinHeaderLen, tail)
	t.SetDataOffset(uint8((tcpMinHeaderLen + padded) / 4))
	return nil
}

func tcpFlagString(f uint16) string {
	const names = "FSRPAUECN"
	var sb strings.Builder
	for i := 0; i < len(names); i++ {
		if f&(1<<i) != 0 {
			sb.WriteByte(names[i])
		}
	}
	if sb.Len() == 0 {
		return "."
	}
	return sb.String()
}

func init() {
	register(&protocol{
		kind:   KindTCP,
		fields: tcpFields,
		minLen: tcpMinHeaderLen,
		headerLen: func(b []byte) int {
			l := int(b[12]>>4) * 4
			if l < tcpMinHeaderLen {
				return -1
			}
			return l
		},
		fix: func(n Node, _ int) error {
			TCP{n}.SetDataOffset(uint8(n.HeaderLen() / 4))
			return nil
		},
		csum: &checksumRule{cover: coverPseudo, offset: fixedOffset(16), proto: IPProtoTCP},
		summary: func(n Node) string {
			t := TCP{n}
			return fmt.Sprintf("%d > %d [%s] seq=%d ack=%d win=%d",
				t.SourcePort(), t.DestinationPort(), tcpFlagString(t.Flags()), t.Seq(), t.Ack(), t.Window())
		},
	})
}
