package packet

import (
	"fmt"
	"strings"
)

// GRE presence bits of the flags word.
const (
	GREChecksumPresent = 0x8000
	GRERoutingPresent  = 0x4000
	GREKeyPresent      = 0x2000
	GRESequencePresent = 0x1000
)

const greMinHeaderLen = 4

// greLayout holds the byte offsets of the optional GRE fields for one flags
// word. Absent fields are -1.
type greLayout struct {
	size     int
	proto    int
	csum     int
	reserved int
	key      int
	seq      int
}

// greLayoutOf places Checksum at offset 2 and Reserved after Protocol when C
// or R is set, then appends Key and Sequence.
func greLayoutOf(flags uint16) greLayout {
	l := greLayout{proto: 2, csum: -1, reserved: -1, key: -1, seq: -1}
	off := 4
	if flags&(GREChecksumPresent|GRERoutingPresent) != 0 {
		l.csum, l.proto, l.reserved = 2, 4, 6
		off = 8
	}
	if flags&GREKeyPresent != 0 {
		l.key = off
		off += 4
	}
	if flags&GRESequencePresent != 0 {
		l.seq = off
		off += 4
	}
	l.size = off
	return l
}

func greAt(width int, pick func(greLayout) int) func([]byte) (int, int, bool) {
	return func(hdr []byte) (int, int, bool) {
		off := pick(greLayoutOf(get16(hdr)))
		return off * 8, width, off >= 0
	}
}

var greFields = []Field{
	bitField("checksum_present", 0, 1, Layout),
	bitField("routing_present", 1, 1, Layout),
	bitField("key_present", 2, 1, Layout),
	bitField("sequence_present", 3, 1, Layout),
	hexField("reserved0", 4, 9, 0),
	bitField("version", 13, 3, 0),
	{Name: "checksum", Width: 16, Flags: Derived, locate: greAt(16, func(l greLayout) int { return l.csum }), format: formatHex},
	{Name: "protocol", Width: 16, Flags: Selector, locate: greAt(16, func(l greLayout) int { return l.proto }), format: formatHex},
	{Name: "reserved1", Width: 16, locate: greAt(16, func(l greLayout) int { return l.reserved }), format: formatHex},
	{Name: "key", Width: 32, locate: greAt(32, func(l greLayout) int { return l.key }), format: formatHex},
	{Name: "sequence", Width: 32, locate: greAt(32, func(l greLayout) int { return l.seq })},
}

// GRE is a generic routing encapsulation header. Its size and the offsets of
// its fields follow the presence bits, which are changed only through the
// Set*Present methods.
type GRE struct{ Node }

// GRE returns the node as a GRE header.
func (n Node) GRE() (GRE, bool) {
	return GRE{n}, n.Kind() == KindGRE
}

func (g GRE) layout() greLayout { return greLayoutOf(g.FlagsWord()) }

// FlagsWord returns the first 16 bits of the header: presence bits,
// reserved bits and version.
func (g GRE) FlagsWord() uint16 { return g.u16(0) }

func (g GRE) ChecksumPresent() bool { return g.FlagsWord()&GREChecksumPresent != 0 }
func (g GRE) RoutingPresent() bool  { return g.FlagsWord()&GRERoutingPresent != 0 }
func (g GRE) KeyPresent() bool      { return g.FlagsWord()&GREKeyPresent != 0 }
func (g GRE) SequencePresent() bool { return g.FlagsWord()&GRESequencePresent != 0 }

func (g GRE) Version() uint8 { return uint8(g.bits(13, 3)) }

// SetVersion panics if v does not fit in 3 bits.
func (g GRE) SetVersion(v uint8) { g.setBits(13, 3, uint64(v)) }

func (g GRE) Protocol() EtherType { return EtherType(g.u16(g.layout().proto)) }

func (g GRE) SetProtocol(t EtherType) { g.setU16(g.layout().proto, uint16(t)) }

// Checksum returns the checksum field. ok is false when neither C nor R is
// set.
func (g GRE) Checksum() (sum uint16, ok bool) {
	l := g.layout()
	if l.csum < 0 {
		return 0, false
	}
	return g.u16(l.csum), true
}

// Key returns the key field. ok is false when K is clear.
func (g GRE) Key() (key uint32, ok bool) {
	l := g.layout()
	if l.key < 0 {
		return 0, false
	}
	return g.u32(l.key), true
}

// Sequence returns the sequence number. ok is false when S is clear.
func (g GRE) Sequence() (seq uint32, ok bool) {
	l := g.layout()
	if l.seq < 0 {
		return 0, false
	}
	return g.u32(l.seq), true
}

// SetKey sets K, resizing the header if needed, and stores key.
func (g GRE) SetKey(key uint32) {
	g.SetKeyPresent(true)
	g.setU32(g.layout().key, key)
}

// SetSequence sets S, resizing the header if needed, and stores seq.
func (g GRE) SetSequence(seq uint32) {
	g.SetSequencePresent(true)
	g.setU32(g.layout().seq, seq)
}

func (g GRE) SetChecksumPresent(on bool) { g.setPresent(GREChecksumPresent, on) }
func (g GRE) SetRoutingPresent(on bool)  { g.setPresent(GRERoutingPresent, on) }
func (g GRE) SetKeyPresent(on bool)      { g.setPresent(GREKeyPresent, on) }
func (g GRE) SetSequencePresent(on bool) { g.setPresent(GRESequencePresent, on) }

// setPresent resizes the header for the new flags word and moves every field
// present in both layouts to its new offset. New fields start at zero.
func (g GRE) setPresent(bit uint16, on bool) {
	old := g.FlagsWord()
	flags := old &^ bit
	if on {
		flags |= bit
	}
	if flags == old {
		return
	}
	ol, nl := greLayoutOf(old), greLayoutOf(flags)
	h := append([]byte(nil), g.Header()...)
	out := make([]byte, nl.size)
	put16(out, flags)
	carry := func(from, to, size int) {
		if from >= 0 && to >= 0 {
			copy(out[to:to+size], h[from:from+size])
		}
	}
	carry(ol.proto, nl.proto, 2)
	carry(ol.csum, nl.csum, 2)
	carry(ol.reserved, nl.reserved, 2)
	carry(ol.key, nl.key, 4)
	carry(ol.seq, nl.seq, 4)
	g.resize(nl.size)
	g.write(0, out)
}

func init() {
	register(&protocol{
		kind:   KindGRE,
		fields: greFields,
		minLen: greMinHeaderLen,
		headerLen: func(b []byte) int {
			return greLayoutOf(get16(b)).size
		},
		next: func(hdr []byte) (Kind, error) {
			l := greLayoutOf(get16(hdr))
			return kindForEtherType(EtherType(get16(hdr[l.proto:])), true)
		},
		link: func(n Node, child Kind) error {
			t, ok := etherTypeFor(child, true)
			if !ok {
				return fmt.Errorf("%w: gre cannot carry %v", ErrInvalidArgument, child)
			}
			GRE{n}.SetProtocol(t)
			return nil
		},
		csum: &checksumRule{
			cover: coverRegion,
			late:  true,
			offset: func(hdr []byte) (int, bool) {
				return 2, get16(hdr)&GREChecksumPresent != 0
			},
		},
		summary: func(n Node) string {
			g := GRE{n}
			var sb strings.Builder
			sb.WriteString(g.Protocol().String())
			if sum, ok := g.Checksum(); ok && g.ChecksumPresent() {
				fmt.Fprintf(&sb, " csum=0x%04x", sum)
			}
			if key, ok := g.Key(); ok {
				fmt.Fprintf(&sb, " key=0x%x", key)
			}
			if seq, ok := g.Sequence(); ok {
				fmt.Fprintf(&sb, " seq=%d", seq)
			}
			return sb.String()
		},
	})
}
