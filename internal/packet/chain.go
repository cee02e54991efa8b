package packet

import (
	"fmt"
	"net/netip"

	"example.com/pktchain/internal/checksum"
	"example.com/pktchain/internal/segment"
)

type node struct {
	kind    Kind
	hdr     segment.Segment
	trailer segment.Segment
}

// Chain is an ordered stack of protocol headers, outermost first, followed by
// an opaque payload.
type Chain struct {
	link    LinkType
	nodes   []node
	payload segment.Segment
	pending bool
	err     error
}

// NewChain returns an empty chain ready for the Add methods.
func NewChain() *Chain {
	return &Chain{}
}

// Link returns the link-layer tag of the chain.
func (c *Chain) Link() LinkType { return c.link }

// Len returns the number of protocol nodes.
func (c *Chain) Len() int { return len(c.nodes) }

// Node returns the i-th node, outermost first.
func (c *Chain) Node(i int) Node {
	if i < 0 || i >= len(c.nodes) {
		panic(fmt.Sprintf("packet: node %d of %d", i, len(c.nodes)))
	}
	return Node{c: c, i: i}
}

// Nodes returns handles to every node, outermost first.
func (c *Chain) Nodes() []Node {
	out := make([]Node, len(c.nodes))
	for i := range c.nodes {
		out[i] = Node{c: c, i: i}
	}
	return out
}

// Last returns the innermost node.
func (c *Chain) Last() (Node, bool) {
	if len(c.nodes) == 0 {
		return Node{}, false
	}
	return Node{c: c, i: len(c.nodes) - 1}, true
}

// Extract returns the outermost node matching kind. KindIP matches either IP
// version.
func (c *Chain) Extract(kind Kind) (Node, bool) {
	for i := range c.nodes {
		if kind.Matches(c.nodes[i].kind) {
			return Node{c: c, i: i}, true
		}
	}
	return Node{}, false
}

// Err returns the first anomaly recovered while parsing, if any. It wraps
// ErrMalformedLength or ErrUnknownProtocol.
func (c *Chain) Err() error { return c.err }

// Pending reports whether fields were written since the last
// UpdateCalculatedValues.
func (c *Chain) Pending() bool { return c.pending }

// Payload returns the opaque bytes after the innermost header.
func (c *Chain) Payload() []byte { return c.payload.Bytes() }

// SetPayload replaces the opaque bytes after the innermost header with a copy
// of b.
func (c *Chain) SetPayload(b []byte) {
	c.payload = segment.NewOwned(b).View()
	c.pending = true
}

func (c *Chain) recordErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// wire returns the segments of node from onward in wire order. The header of
// from is included when withHeader is set.
func (c *Chain) wire(from int, withHeader bool) []segment.Segment {
	segs := make([]segment.Segment, 0, 2*len(c.nodes)+1)
	for i := from; i < len(c.nodes); i++ {
		if i == from && !withHeader {
			continue
		}
		segs = append(segs, c.nodes[i].hdr)
	}
	segs = append(segs, c.payload)
	for i := len(c.nodes) - 1; i > from; i-- {
		segs = append(segs, c.nodes[i].trailer)
	}
	return segs
}

func (c *Chain) segments() []segment.Segment {
	if len(c.nodes) == 0 {
		return []segment.Segment{c.payload}
	}
	return append(c.wire(0, true), c.nodes[0].trailer)
}

// View returns the whole chain as one zero-copy segment. ok is false when a
// header was resized, or the chain was built by hand, so the wire
// bytes are no longer contiguous in one buffer.
func (c *Chain) View() (segment.Segment, bool) {
	return segment.Join(c.segments()...)
}

// Bytes returns the chain in wire order. The result aliases the parsed buffer
// when the chain is still contiguous and is a fresh copy otherwise.
func (c *Chain) Bytes() []byte {
	return joinBytes(c.segments())
}

// WireLen returns the length of Bytes without flattening.
func (c *Chain) WireLen() int {
	n := 0
	for _, s := range c.segments() {
		n += s.Len()
	}
	return n
}

// ChecksumsValid reports whether every checksum in the chain matches its
// contents.
func (c *Chain) ChecksumsValid() bool {
	for i := range c.nodes {
		if !(Node{c: c, i: i}).ValidChecksum() {
			return false
		}
	}
	return true
}

// UpdateCalculatedValues rewrites every derived field of the chain. Lengths
// are fixed innermost first, then checksums that need ancestor addresses are
// computed outermost first, and finally checksums that cover encapsulated
// packets are computed innermost first.
//
// A failure leaves the chain partially updated.
func (c *Chain) UpdateCalculatedValues() error {
	content := c.payload.Len()
	for i := len(c.nodes) - 1; i >= 0; i-- {
		n := Node{c: c, i: i}
		if fix := protoFor(n.Kind()).fix; fix != nil {
			if err := fix(n, content); err != nil {
				return fmt.Errorf("update %v: %w", n.Kind(), err)
			}
		}
		content += c.nodes[i].hdr.Len() + c.nodes[i].trailer.Len()
	}
	for i := range c.nodes {
		n := Node{c: c, i: i}
		if cs := protoFor(n.Kind()).csum; cs != nil && !cs.late {
			n.writeChecksum()
		}
	}
	for i := len(c.nodes) - 1; i >= 0; i-- {
		n := Node{c: c, i: i}
		if cs := protoFor(n.Kind()).csum; cs != nil && cs.late {
			n.writeChecksum()
		}
	}
	c.pending = false
	return nil
}

// Node is a handle to one header of a chain. Handles are cheap values and
// stay valid as long as the chain is not shortened.
type Node struct {
	c *Chain
	i int
}

// Kind returns the protocol of the node.
func (n Node) Kind() Kind {
	if n.c == nil {
		return KindUnknown
	}
	return n.c.nodes[n.i].kind
}

// Index returns the position of the node in its chain.
func (n Node) Index() int { return n.i }

// Chain returns the chain holding the node.
func (n Node) Chain() *Chain { return n.c }

// Parent returns the enclosing node.
func (n Node) Parent() (Node, bool) {
	if n.i == 0 {
		return Node{}, false
	}
	return Node{c: n.c, i: n.i - 1}, true
}

// Child returns the encapsulated node.
func (n Node) Child() (Node, bool) {
	if n.i+1 >= len(n.c.nodes) {
		return Node{}, false
	}
	return Node{c: n.c, i: n.i + 1}, true
}

// HeaderSegment returns the view holding the node's header.
func (n Node) HeaderSegment() segment.Segment { return n.ref().hdr }

// Header returns the header bytes. Writes to the result reach the chain but do
// not mark it pending.
func (n Node) Header() []byte { return n.ref().hdr.Bytes() }

// HeaderLen returns the length of the header in bytes.
func (n Node) HeaderLen() int { return n.ref().hdr.Len() }

// Payload returns everything the node carries after its header: inner
// headers, the opaque payload and inner trailers.
func (n Node) Payload() []byte {
	return joinBytes(n.c.wire(n.i, false))
}

// PayloadLen returns len(n.Payload()) without flattening.
func (n Node) PayloadLen() int {
	l := 0
	for _, s := range n.c.wire(n.i, false) {
		l += s.Len()
	}
	return l
}

// Bytes returns the node's header followed by its payload.
func (n Node) Bytes() []byte {
	return joinBytes(n.c.wire(n.i, true))
}

// Trailer returns bytes inside the enclosing region that lie past the node's
// declared extent, such as Ethernet padding.
func (n Node) Trailer() []byte { return n.ref().trailer.Bytes() }

// ComputeChecksum returns the checksum the node should carry. ok is false for
// nodes without a checksum and for pseudo-header checksums with no IP
// ancestor.
func (n Node) ComputeChecksum() (sum uint16, ok bool) {
	cs := protoFor(n.Kind()).csum
	if cs == nil {
		return 0, false
	}
	off, ok := cs.offset(n.Header())
	if !ok {
		return 0, false
	}
	switch cs.cover {
	case coverHeader:
		return checksum.Header(n.Header(), off), true
	case coverRegion:
		return checksum.Header(n.Bytes(), off), true
	}
	src, dst, ok := n.pseudoAddrs()
	if !ok {
		return 0, false
	}
	sum = checksum.Transport(n.Bytes(), off, src, dst, uint8(cs.proto))
	if n.Kind() == KindUDP && sum == 0 {
		sum = 0xffff
	}
	return sum, true
}

// ValidChecksum reports whether the stored checksum matches the node's
// contents. Nodes without a checksum are valid, as is a zero UDP checksum
// over IPv4.
func (n Node) ValidChecksum() bool {
	cs := protoFor(n.Kind()).csum
	if cs == nil {
		return true
	}
	off, ok := cs.offset(n.Header())
	if !ok {
		return true
	}
	stored := n.u16(off)
	if n.Kind() == KindUDP && stored == 0 {
		if ip, ok := n.ipAncestor(); ok && ip.Kind() == KindIPv4 {
			return true
		}
	}
	want, ok := n.ComputeChecksum()
	if !ok {
		return true
	}
	return stored == want
}

func (n Node) writeChecksum() {
	cs := protoFor(n.Kind()).csum
	off, ok := cs.offset(n.Header())
	if !ok {
		return
	}
	if sum, ok := n.ComputeChecksum(); ok {
		n.setU16(off, sum)
	}
}

// ipAncestor returns the nearest enclosing IP node.
func (n Node) ipAncestor() (Node, bool) {
	for p, ok := n.Parent(); ok; p, ok = p.Parent() {
		if KindIP.Matches(p.Kind()) {
			return p, true
		}
	}
	return Node{}, false
}

func (n Node) pseudoAddrs() (src, dst netip.Addr, ok bool) {
	ip, ok := n.ipAncestor()
	if !ok {
		return src, dst, false
	}
	if ip.Kind() == KindIPv4 {
		v := IPv4{ip}
		return v.Source(), v.Destination(), true
	}
	v := IPv6{ip}
	return v.Source(), v.Destination(), true
}

func joinBytes(segs []segment.Segment) []byte {
	if v, ok := segment.Join(segs...); ok {
		return v.Bytes()
	}
	return segment.Flatten(segs...).Bytes()
}

func (n Node) ref() *node { return &n.c.nodes[n.i] }

// field returns an alias of size header bytes at off. It panics when the
// header is shorter.
func (n Node) field(off, size int) []byte {
	b, err := n.ref().hdr.Slice(off, size)
	if err != nil {
		panic(fmt.Errorf("packet: %v header: %w", n.Kind(), err))
	}
	return b
}

func (n Node) u8(off int) uint8   { return n.field(off, 1)[0] }
func (n Node) u16(off int) uint16 { return get16(n.field(off, 2)) }
func (n Node) u32(off int) uint32 { return get32(n.field(off, 4)) }

func (n Node) write(off int, p []byte) {
	if err := n.ref().hdr.Write(off, p); err != nil {
		panic(fmt.Errorf("packet: %v header: %w", n.Kind(), err))
	}
	n.c.pending = true
}

func (n Node) setU8(off int, v uint8) { n.write(off, []byte{v}) }

func (n Node) setU16(off int, v uint16) {
	var b [2]byte
	put16(b[:], v)
	n.write(off, b[:])
}

func (n Node) setU32(off int, v uint32) {
	var b [4]byte
	put32(b[:], v)
	n.write(off, b[:])
}

func (n Node) bits(bitOff, width int) uint64 {
	off, size := byteSpan(bitOff, width)
	return getBits(n.field(off, size), bitOff-off*8, width)
}

// setBits writes a sub-byte field. It panics when v does not fit width.
func (n Node) setBits(bitOff, width int, v uint64) {
	if !fitsWidth(v, width) {
		panic(fmt.Sprintf("packet: value %d overflows %d-bit %v field", v, width, n.Kind()))
	}
	off, size := byteSpan(bitOff, width)
	cur := append([]byte(nil), n.field(off, size)...)
	putBits(cur, bitOff-off*8, width, v)
	n.write(off, cur)
}

// resize changes the header length. Shrinking keeps the header in place;
// growth rebinds it onto fresh storage so sibling views are left untouched.
func (n Node) resize(size int) {
	if err := n.ref().hdr.Resize(size); err != nil {
		panic(fmt.Errorf("packet: %v header: %w", n.Kind(), err))
	}
	n.c.pending = true
}
