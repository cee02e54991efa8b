package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"example.com/pktchain/internal/common"
	"example.com/pktchain/internal/packet"
)

// fieldEdit is one --field argument of the form layer.name=value. layer is a
// protocol name matched against the outermost node of that kind, or a node
// index.
type fieldEdit struct {
	layer string
	name  string
	value string
}

func parseFieldEdit(s string) (fieldEdit, error) {
	lhs, value, ok := strings.Cut(s, "=")
	if !ok {
		return fieldEdit{}, fmt.Errorf("field edit %q: want layer.name=value", s)
	}
	layer, name, ok := strings.Cut(strings.TrimSpace(lhs), ".")
	if !ok || layer == "" || name == "" {
		return fieldEdit{}, fmt.Errorf("field edit %q: want layer.name=value", s)
	}
	return fieldEdit{layer: layer, name: name, value: strings.TrimSpace(value)}, nil
}

func parseFieldEdits(list string) ([]fieldEdit, error) {
	var out []fieldEdit
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := parseFieldEdit(part)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func findNode(c *packet.Chain, layer string) (packet.Node, error) {
	if i, err := strconv.Atoi(layer); err == nil {
		if i < 0 || i >= c.Len() {
			return packet.Node{}, fmt.Errorf("%w: node %d of %d", packet.ErrInvalidArgument, i, c.Len())
		}
		return c.Node(i), nil
	}
	for _, n := range c.Nodes() {
		if strings.EqualFold(n.Kind().String(), layer) {
			return n, nil
		}
	}
	return packet.Node{}, fmt.Errorf("%w: no %s layer in %v", packet.ErrInvalidArgument, layer, c)
}

// fixup selects what happens to lengths and checksums after an edit.
type fixup int

const (
	// fixupRecompute recomputes every derived field of the chain.
	fixupRecompute fixup = iota
	// fixupNone leaves the packet exactly as edited.
	fixupNone
	// fixupIncremental adjusts only the checksums covering each edited
	// field, leaving lengths and unrelated checksums untouched.
	fixupIncremental
)

// applyEdit writes e into c and returns the edited node and the field bytes
// it replaced.
func applyEdit(c *packet.Chain, e fieldEdit, mode fixup) (packet.Node, []byte, error) {
	n, err := findNode(c, e.layer)
	if err != nil {
		return n, nil, err
	}
	f, ok := n.Field(e.name)
	if !ok {
		return n, nil, fmt.Errorf("%w: %v has no field %q", packet.ErrInvalidArgument, n.Kind(), e.name)
	}
	before := append([]byte(nil), n.Header()[f.Offset:f.Offset+f.Len]...)
	setValue, setBytes := n.SetField, n.SetFieldBytes
	if mode == fixupIncremental {
		setValue, setBytes = n.PatchField, n.PatchFieldBytes
	}
	if f.Width <= 64 {
		if v, perr := strconv.ParseUint(e.value, 0, 64); perr == nil {
			return n, before, setValue(e.name, v)
		}
	}
	if f.Raw == nil {
		return n, nil, fmt.Errorf("%w: %v.%s needs a number, got %q", packet.ErrInvalidArgument, n.Kind(), e.name, e.value)
	}
	b, err := parseBytesValue(e.value, f.Len)
	if err != nil {
		return n, nil, fmt.Errorf("%v.%s: %w", n.Kind(), e.name, err)
	}
	return n, before, setBytes(e.name, b)
}

// parseBytesValue accepts a MAC address, an IP address or hex digits of
// exactly size bytes.
func parseBytesValue(s string, size int) ([]byte, error) {
	if mac, err := net.ParseMAC(s); err == nil && len(mac) == size {
		return mac, nil
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		b := addr.AsSlice()
		if len(b) != size {
			return nil, fmt.Errorf("%w: %v for a %d-byte field", packet.ErrInvalidArgument, addr, size)
		}
		return b, nil
	}
	b, err := decodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %d bytes for a %d-byte field", packet.ErrInvalidArgument, len(b), size)
	}
	return b, nil
}

// decodeHex accepts hex digits separated by whitespace or colons, with an
// optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}

// wireOffset returns the position of n's header within the chain's wire
// bytes.
func wireOffset(n packet.Node) int {
	off := 0
	for i := 0; i < n.Index(); i++ {
		off += n.Chain().Node(i).HeaderLen()
	}
	return off
}

type editResult struct {
	chain   *packet.Chain
	entries []common.EditEntry
}

// editFrame parses frame, applies edits in order and fixes up derived fields
// as mode says.
func editFrame(link packet.LinkType, frame []byte, edits []fieldEdit, mode fixup) (editResult, error) {
	c := packet.Parse(link, frame)
	if err := c.Err(); err != nil {
		common.Logf("set: editing a packet with a parse anomaly: %v", err)
	}
	type applied struct {
		node   packet.Node
		field  string
		before []byte
	}
	var done []applied
	for _, e := range edits {
		n, before, err := applyEdit(c, e, mode)
		if err != nil {
			return editResult{}, err
		}
		if f, _ := n.Field(e.name); f.Flags&packet.Derived != 0 && mode == fixupRecompute {
			common.Logf("set: %v.%s is derived and will be recomputed", n.Kind(), e.name)
		}
		done = append(done, applied{node: n, field: e.name, before: before})
	}
	if mode == fixupRecompute {
		if err := c.UpdateCalculatedValues(); err != nil {
			return editResult{}, err
		}
	}
	res := editResult{chain: c}
	for _, a := range done {
		f, _ := a.node.Field(a.field)
		res.entries = append(res.entries, common.EditEntry{
			Node:      a.node.Index(),
			Kind:      a.node.Kind().String(),
			Field:     a.field,
			Offset:    int64(wireOffset(a.node) + f.Offset),
			BeforeHex: hex.EncodeToString(a.before),
			AfterHex:  hex.EncodeToString(a.node.Header()[f.Offset : f.Offset+f.Len]),
		})
	}
	return res, nil
}
