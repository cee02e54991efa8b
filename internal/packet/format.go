package packet

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Mode selects how much of a chain Text renders.
type Mode uint8

const (
	// Normal renders one summary line.
	Normal Mode = iota
	// Verbose renders every field of every node.
	Verbose
)

func (c *Chain) String() string { return c.Text(Normal) }

// Format implements fmt.Formatter. %v renders the Normal text and %+v the
// Verbose text.
func (c *Chain) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		mode := Normal
		if f.Flag('+') {
			mode = Verbose
		}
		io.WriteString(f, c.Text(mode))
	default:
		fmt.Fprintf(f, "%%!%c(*packet.Chain=%s)", verb, c.Text(Normal))
	}
}

// Text renders the chain without modifying it.
func (c *Chain) Text(mode Mode) string {
	if mode == Verbose {
		return c.verbose()
	}
	var sb strings.Builder
	for i := range c.nodes {
		n := Node{c: c, i: i}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(n.Kind().String())
		sb.WriteByte('{')
		if s := protoFor(n.Kind()).summary; s != nil {
			sb.WriteString(s(n))
		}
		sb.WriteByte('}')
	}
	if l := c.payload.Len(); l > 0 || len(c.nodes) == 0 {
		if len(c.nodes) > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "Payload{%d}", l)
	}
	return sb.String()
}

func (c *Chain) verbose() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v link, %d bytes\n", c.link, c.WireLen())
	tw := tabwriter.NewWriter(&sb, 0, 8, 2, ' ', 0)
	for i := range c.nodes {
		n := Node{c: c, i: i}
		fmt.Fprintf(tw, "%v\t(%d bytes)\t\n", n.Kind(), n.HeaderLen())
		for _, f := range n.Fields() {
			var notes []string
			if f.Flags&Derived != 0 {
				notes = append(notes, "derived")
			}
			if f.Flags&Selector != 0 {
				notes = append(notes, "selector")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Name, f, strings.Join(notes, ","))
		}
		if _, ok := n.ComputeChecksum(); ok {
			fmt.Fprintf(tw, "  checksum_valid\t%t\t\n", n.ValidChecksum())
		}
		if t := n.Trailer(); len(t) > 0 {
			fmt.Fprintf(tw, "  trailer\t% x\t\n", t)
		}
	}
	fmt.Fprintf(tw, "Payload\t(%d bytes)\t\n", c.payload.Len())
	tw.Flush()
	if c.err != nil {
		fmt.Fprintf(&sb, "error: %v\n", c.err)
	}
	return sb.String()
}

// Hexdump returns an offset-labelled hex and ASCII dump of the chain's wire
// bytes.
func (c *Chain) Hexdump() string {
	return Hexdump(c.Bytes())
}

// Hexdump formats b sixteen bytes per line.
func Hexdump(b []byte) string {
	out := new(strings.Builder)
	for i := 0; i < len(b); i += 16 {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(out, "  %04x  ", i)
		j := 0
		for ; j < 16 && i+j < len(b); j++ {
			if j == 8 {
				out.WriteByte(' ')
			}
			fmt.Fprintf(out, "%02x ", b[i+j])
		}
		for ; j < 16; j++ {
			if j == 8 {
				out.WriteByte(' ')
			}
			out.WriteString("   ")
		}
		out.WriteByte(' ')
		for j = 0; j < 16 && i+j < len(b); j++ {
			if b[i+j] >= 32 && b[i+j] < 127 {
				out.WriteByte(b[i+j])
			} else {
				out.WriteByte('.')
			}
		}
	}
	return out.String()
}
