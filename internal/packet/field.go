package packet

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// FieldFlags classify how a field participates in construction and
// recomputation.
type FieldFlags uint8

const (
	// Derived fields are rewritten by UpdateCalculatedValues.
	Derived FieldFlags = 1 << iota
	// Constant fields hold a fixed value for the protocol, such as the IP
	// version.
	Constant
	// Selector fields name the next protocol in the chain.
	Selector
	// Layout fields change the header length or the offsets of other
	// fields and are only changed through dedicated setters.
	Layout
)

type valueFormat uint8

const (
	formatDec valueFormat = iota
	formatHex
	formatMAC
	formatIP
	formatBytes
)

// Field describes one accessor of a protocol header: a bit offset and width
// within the header bytes.
type Field struct {
	Name  string
	Width int // bits
	Flags FieldFlags

	bitOff int
	// locate overrides bitOff and Width for fields whose position or size
	// depends on other header fields. ok is false when the field is absent.
	locate func(hdr []byte) (bitOff, width int, ok bool)
	format valueFormat
}

func (f Field) position(hdr []byte) (bitOff, width int, ok bool) {
	if f.locate != nil {
		return f.locate(hdr)
	}
	return f.bitOff, f.Width, true
}

// FieldValue is a field resolved against a particular header.
type FieldValue struct {
	Field
	Offset int    // first byte of the field within the header
	Len    int    // bytes spanned by the field
	Value  uint64 // numeric value, for fields up to 64 bits wide
	Raw    []byte // aliased bytes, for byte-aligned fields
}

// String formats the value the way the verbose formatter shows it.
func (v FieldValue) String() string {
	switch v.format {
	case formatMAC:
		return net.HardwareAddr(v.Raw).String()
	case formatIP:
		if addr, ok := netip.AddrFromSlice(v.Raw); ok {
			return addr.String()
		}
		return fmt.Sprintf("% x", v.Raw)
	case formatBytes:
		if len(v.Raw) == 0 {
			return "-"
		}
		return fmt.Sprintf("% x", v.Raw)
	case formatHex:
		return "0x" + strconv.FormatUint(v.Value, 16)
	default:
		return strconv.FormatUint(v.Value, 10)
	}
}

func bitField(name string, bitOff, width int, flags FieldFlags) Field {
	return Field{Name: name, bitOff: bitOff, Width: width, Flags: flags}
}

func hexField(name string, bitOff, width int, flags FieldFlags) Field {
	return Field{Name: name, bitOff: bitOff, Width: width, Flags: flags, format: formatHex}
}

func addrField(name string, byteOff, size int, format valueFormat) Field {
	return Field{Name: name, bitOff: byteOff * 8, Width: size * 8, format: format}
}

// getBits reads width bits starting bitOff bits into b, most significant bit
// first.
func getBits(b []byte, bitOff, width int) uint64 {
	if bitOff%8 == 0 && width%8 == 0 {
		var v uint64
		for _, x := range b[bitOff/8 : (bitOff+width)/8] {
			v = v<<8 | uint64(x)
		}
		return v
	}
	var v uint64
	for i := 0; i < width; i++ {
		pos := bitOff + i
		bit := (b[pos/8] >> (7 - uint(pos%8))) & 1
		v = v<<1 | uint64(bit)
	}
	return v
}

// putBits writes the low width bits of v starting bitOff bits into b.
func putBits(b []byte, bitOff, width int, v uint64) {
	for i := width - 1; i >= 0; i-- {
		pos := bitOff + i
		mask := byte(1) << (7 - uint(pos%8))
		if v&1 != 0 {
			b[pos/8] |= mask
		} else {
			b[pos/8] &^= mask
		}
		v >>= 1
	}
}

func fitsWidth(v uint64, width int) bool {
	return width >= 64 || v < 1<<uint(width)
}

func byteSpan(bitOff, width int) (off, n int) {
	off = bitOff / 8
	end := (bitOff + width + 7) / 8
	return off, end - off
}

// Fields returns every field present in the node's header, in wire order.
func (n Node) Fields() []FieldValue {
	hdr := n.Header()
	defs := protoFor(n.Kind()).fields
	out := make([]FieldValue, 0, len(defs))
	for _, f := range defs {
		if v, ok := resolveField(f, hdr); ok {
			out = append(out, v)
		}
	}
	return out
}

// Field looks up a field of the node's header by name.
func (n Node) Field(name string) (FieldValue, bool) {
	hdr := n.Header()
	for _, f := range protoFor(n.Kind()).fields {
		if f.Name == name {
			return resolveField(f, hdr)
		}
	}
	return FieldValue{}, false
}

func resolveField(f Field, hdr []byte) (FieldValue, bool) {
	bitOff, width, ok := f.position(hdr)
	if !ok {
		return FieldValue{}, false
	}
	off, size := byteSpan(bitOff, width)
	if off+size > len(hdr) {
		return FieldValue{}, false
	}
	f.Width = width
	v := FieldValue{Field: f, Offset: off, Len: size}
	if width <= 64 {
		v.Value = getBits(hdr, bitOff, width)
	}
	if bitOff%8 == 0 && width%8 == 0 {
		v.Raw = hdr[off : off+size : off+size]
	}
	return v, true
}

// SetField writes a numeric value into the named field. Layout fields must be
// changed through their protocol's dedicated setters.
func (n Node) SetField(name string, value uint64) error {
	for _, f := range protoFor(n.Kind()).fields {
		if f.Name != name {
			continue
		}
		if f.Flags&Layout != 0 {
			return fmt.Errorf("%w: %v field %q changes the header layout", ErrInvalidArgument, n.Kind(), name)
		}
		bitOff, width, ok := f.position(n.Header())
		if !ok {
			return fmt.Errorf("%w: %v field %q is not present", ErrInvalidArgument, n.Kind(), name)
		}
		if width > 64 {
			return fmt.Errorf("%w: %v field %q is %d bits wide, use SetFieldBytes", ErrInvalidArgument, n.Kind(), name, width)
		}
		if !fitsWidth(value, width) {
			return fmt.Errorf("%w: value %d does not fit %d-bit field %v.%s", ErrInvalidArgument, value, width, n.Kind(), name)
		}
		n.setBits(bitOff, width, value)
		return nil
	}
	return fmt.Errorf("%w: %v has no field %q", ErrInvalidArgument, n.Kind(), name)
}

// SetFieldBytes writes b into a byte-aligned field such as an address. b must
// match the field width exactly.
func (n Node) SetFieldBytes(name string, b []byte) error {
	for _, f := range protoFor(n.Kind()).fields {
		if f.Name != name {
			continue
		}
		bitOff, width, ok := f.position(n.Header())
		if !ok {
			return fmt.Errorf("%w: %v field %q is not present", ErrInvalidArgument, n.Kind(), name)
		}
		if bitOff%8 != 0 || width%8 != 0 || len(b)*8 != width {
			return fmt.Errorf("%w: %d bytes for %d-bit field %v.%s", ErrInvalidArgument, len(b), width, n.Kind(), name)
		}
		if f.Flags&Layout != 0 {
			return fmt.Errorf("%w: %v field %q changes the header layout", ErrInvalidArgument, n.Kind(), name)
		}
		n.write(bitOff/8, b)
		return nil
	}
	return fmt.Errorf("%w: %v has no field %q", ErrInvalidArgument, n.Kind(), name)
}
