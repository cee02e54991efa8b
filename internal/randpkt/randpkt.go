// Package randpkt builds well-formed random packet chains for tests, fuzz
// corpora and sample captures.
package randpkt

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"

	"example.com/pktchain/internal/packet"
)

// Stack names one layering New can build.
type Stack uint8

const (
	EthIPv4TCP Stack = iota
	EthIPv4UDP
	EthIPv4ICMP
	EthIPv6TCP
	EthIPv6UDP
	EthIPv6ICMP
	RawIPv4TCP
	EthIPv4GRE
	EthARP
	EthVLANIPv4UDP

	numStacks
)

var stackNames = [...]string{
	EthIPv4TCP:     "eth-ipv4-tcp",
	EthIPv4UDP:     "eth-ipv4-udp",
	EthIPv4ICMP:    "eth-ipv4-icmp",
	EthIPv6TCP:     "eth-ipv6-tcp",
	EthIPv6UDP:     "eth-ipv6-udp",
	EthIPv6ICMP:    "eth-ipv6-icmp",
	RawIPv4TCP:     "raw-ipv4-tcp",
	EthIPv4GRE:     "eth-ipv4-gre",
	EthARP:         "eth-arp",
	EthVLANIPv4UDP: "eth-vlan-ipv4-udp",
}

func (s Stack) String() string {
	if s < numStacks {
		return stackNames[s]
	}
	return fmt.Sprintf("Stack(%d)", uint8(s))
}

// Stacks returns every stack New accepts.
func Stacks() []Stack {
	out := make([]Stack, numStacks)
	for i := range out {
		out[i] = Stack(i)
	}
	return out
}

// ParseStack maps a stack name such as "eth-ipv6-udp" to its Stack.
func ParseStack(name string) (Stack, error) {
	for i, n := range stackNames {
		if strings.EqualFold(n, name) {
			return Stack(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stack %q", name)
}

// MaxPayload bounds the random payload attached to every chain.
const MaxPayload = 256

// Any builds a chain of a randomly chosen stack.
func Any(r *rand.Rand) (*packet.Chain, error) {
	return New(r, Stack(r.IntN(int(numStacks))))
}

// New builds a chain of the given stack. Every field a caller may freely set
// is randomized within its width, the payload is random, and derived fields
// are recomputed, so the result reparses to the same bytes.
func New(r *rand.Rand, s Stack) (*packet.Chain, error) {
	c := packet.NewChain()
	if err := layout(c, r, s); err != nil {
		return nil, fmt.Errorf("build %v: %w", s, err)
	}
	for _, n := range c.Nodes() {
		if err := fill(r, n); err != nil {
			return nil, fmt.Errorf("build %v: %w", s, err)
		}
		if ip, ok := n.IPv4(); ok {
			// Only the first fragment carries the inner headers.
			ip.SetFlags(ip.Flags() &^ packet.IPv4MoreFragments)
			ip.SetFragmentOffset(0)
		}
	}
	c.SetPayload(randBytes(r, r.IntN(MaxPayload+1)))
	if err := c.UpdateCalculatedValues(); err != nil {
		return nil, fmt.Errorf("build %v: %w", s, err)
	}
	return c, nil
}

var (
	zeroMAC = make(net.HardwareAddr, 6)
	zero4   = netip.IPv4Unspecified()
	zero6   = netip.IPv6Unspecified()
)

// layout appends the headers of s with placeholder addressing.
func layout(c *packet.Chain, r *rand.Rand, s Stack) error {
	var err error
	add := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	eth := func() error { _, err := c.AddEthernet(zeroMAC, zeroMAC); return err }
	ip4 := func() error { _, err := c.AddIPv4(zero4, zero4); return err }
	ip6 := func() error { _, err := c.AddIPv6(zero6, zero6); return err }
	tcp := func() error { _, err := c.AddTCP(0, 0); return err }
	udp := func() error { _, err := c.AddUDP(0, 0); return err }

	switch s {
	case EthIPv4TCP, EthIPv4UDP, EthIPv4ICMP:
		add(eth)
		add(ip4)
	case EthIPv6TCP, EthIPv6UDP, EthIPv6ICMP:
		add(eth)
		add(ip6)
	case RawIPv4TCP:
		add(ip4)
	case EthVLANIPv4UDP:
		add(eth)
		add(func() error { _, err := c.AddVLAN(0); return err })
		add(ip4)
	case EthIPv4GRE:
		add(eth)
		add(ip4)
		add(func() error {
			g, err := c.AddGRE()
			if err != nil {
				return err
			}
			g.SetChecksumPresent(r.IntN(2) == 0)
			g.SetKeyPresent(r.IntN(2) == 0)
			g.SetSequencePresent(r.IntN(2) == 0)
			return nil
		})
		add(ip4)
		add(udp)
	case EthARP:
		add(eth)
		add(func() error {
			_, err := c.AddARP(uint16(1+r.IntN(2)), zeroMAC, zero4, zeroMAC, zero4)
			return err
		})
	default:
		return fmt.Errorf("%w: stack %d", packet.ErrInvalidArgument, uint8(s))
	}

	switch s {
	case EthIPv4TCP, EthIPv6TCP, RawIPv4TCP:
		add(tcp)
	case EthIPv4UDP, EthIPv6UDP, EthVLANIPv4UDP:
		add(udp)
	case EthIPv4ICMP:
		add(func() error { _, err := c.AddICMPv4(0, 0); return err })
	case EthIPv6ICMP:
		add(func() error { _, err := c.AddICMPv6(0, 0); return err })
	}
	return err
}

const fixed = packet.Derived | packet.Constant | packet.Selector | packet.Layout

// fill randomizes every field of n that is neither derived nor fixed by the
// chain's layout.
func fill(r *rand.Rand, n packet.Node) error {
	for _, f := range n.Fields() {
		if f.Flags&fixed != 0 || f.Width == 0 {
			continue
		}
		var err error
		if f.Width > 64 {
			err = n.SetFieldBytes(f.Name, randBytes(r, f.Len))
		} else {
			err = n.SetField(f.Name, randBits(r, f.Width))
		}
		if err != nil {
			return fmt.Errorf("fill %v.%s: %w", n.Kind(), f.Name, err)
		}
	}
	return nil
}

func randBits(r *rand.Rand, width int) uint64 {
	v := r.Uint64()
	if width < 64 {
		v &= 1<<uint(width) - 1
	}
	return v
}

func randBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}
