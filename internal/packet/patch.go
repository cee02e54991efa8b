package packet

import (
	"fmt"

	"example.com/pktchain/internal/checksum"
)

// PatchField writes value into the named field like SetField, then adjusts
// every checksum covering the field incrementally (RFC 1624) instead of
// recomputing the chain. Length fields are left as they are.
func (n Node) PatchField(name string, value uint64) error {
	return n.patch(name, func() error { return n.SetField(name, value) })
}

// PatchFieldBytes is PatchField for byte-aligned fields such as addresses.
func (n Node) PatchFieldBytes(name string, b []byte) error {
	return n.patch(name, func() error { return n.SetFieldBytes(name, b) })
}

func (n Node) patch(name string, set func() error) error {
	f, ok := n.Field(name)
	if !ok {
		return fmt.Errorf("%w: %v has no field %q", ErrInvalidArgument, n.Kind(), name)
	}
	// Checksums add 16-bit words, so the span is widened to whole words.
	off, end := f.Offset&^1, (f.Offset+f.Len+1)&^1
	if end > n.HeaderLen() {
		return fmt.Errorf("%w: %v.%s is not word aligned", ErrInvalidArgument, n.Kind(), name)
	}
	old := append([]byte(nil), n.Header()[off:end]...)
	if err := set(); err != nil {
		return err
	}
	cur := append([]byte(nil), n.Header()[off:end]...)
	n.adjust(off, old, cur, true)
	return nil
}

// adjust carries a change of n's header bytes at off into the checksums that
// cover them: n's own when own is set, every enclosing checksum over content,
// and pseudo-header checksums of nodes addressed by n.
func (n Node) adjust(off int, old, cur []byte, own bool) {
	if own {
		n.adjustChecksum(off, old, cur)
	}
	for p, ok := n.Parent(); ok; p, ok = p.Parent() {
		if cs := protoFor(p.Kind()).csum; cs != nil && cs.cover != coverHeader {
			p.adjustChecksum(-1, old, cur)
		}
	}
	lo, hi, ok := addressSpan(n.Kind())
	if !ok {
		return
	}
	lo, hi = max(lo, off), min(hi, off+len(old))
	if lo >= hi {
		return
	}
	for i := n.i + 1; i < len(n.c.nodes); i++ {
		d := Node{c: n.c, i: i}
		cs := protoFor(d.Kind()).csum
		if cs == nil || cs.cover != coverPseudo {
			continue
		}
		if ip, ok := d.ipAncestor(); ok && ip.i == n.i {
			d.adjustChecksum(-1, old[lo-off:hi-off], cur[lo-off:hi-off])
		}
	}
}

// adjustChecksum updates n's checksum for a change of covered bytes. off is
// the position of the change within n's header, or -1 when it lies elsewhere;
// a change overlapping the checksum itself is left alone.
func (n Node) adjustChecksum(off int, old, cur []byte) {
	cs := protoFor(n.Kind()).csum
	if cs == nil {
		return
	}
	csOff, ok := cs.offset(n.Header())
	if !ok {
		return
	}
	if off >= 0 && off < csOff+2 && csOff < off+len(old) {
		return
	}
	stored := n.u16(csOff)
	if n.Kind() == KindUDP && stored == 0 {
		if ip, ok := n.ipAncestor(); ok && ip.Kind() == KindIPv4 {
			return
		}
	}
	var before, after [2]byte
	put16(before[:], stored)
	after = before
	checksum.Update(after[:], old, cur)
	sum := get16(after[:])
	if n.Kind() == KindUDP && sum == 0 {
		sum = 0xffff
	}
	if sum == stored {
		return
	}
	put16(after[:], sum)
	n.setU16(csOff, sum)
	n.adjust(csOff, before[:], after[:], false)
}

// addressSpan returns the header bytes of an IP node that enter the
// pseudo-header of its upper layer.
func addressSpan(k Kind) (lo, hi int, ok bool) {
	switch k {
	case KindIPv4:
		return 12, 20, true
	case KindIPv6:
		return 8, 40, true
	}
	return 0, 0, false
}
