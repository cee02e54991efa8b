// Package checksum implements the Internet checksum (RFC 1071) used by IPv4,
// TCP, UDP, ICMP and GRE, including the IPv4 and IPv6 pseudo-headers.
//
// Partial sums are 16-bit one's complement sums as produced by gVisor's
// checksum package. Fold turns a partial sum into the value stored on the
// wire.
package checksum

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// Sum adds the big-endian 16-bit words of b to the partial sum initial.
// An odd trailing byte is padded with zero. Callers chaining partial sums
// must only pass odd-length slices last.
func Sum(b []byte, initial uint16) uint16 {
	return checksum.Checksum(b, initial)
}

// Fold returns the checksum for a partial sum.
func Fold(ac uint16) uint16 {
	return ^ac
}

// Internet computes the RFC 1071 checksum of b.
func Internet(b []byte) uint16 {
	return Fold(Sum(b, 0))
}

// PseudoHeader returns the partial sum of the pseudo-header for an upper
// layer segment of the given length. The address family selects the IPv4
// (src, dst, zero, protocol, 16-bit length) or IPv6 (src, dst, 32-bit length,
// three zero bytes, next header) layout. It panics if src and dst are of
// different families.
func PseudoHeader(src, dst netip.Addr, proto uint8, length int) uint16 {
	if src.Is4() != dst.Is4() {
		panic(fmt.Sprintf("checksum: mixed address families %v and %v", src, dst))
	}
	xsum := header.PseudoHeaderChecksum(tcpip.TransportProtocolNumber(proto), gvisorAddr(src), gvisorAddr(dst), uint16(length))
	if !src.Is4() && length > 0xffff {
		// Upper half of the 32-bit IPv6 length.
		xsum = checksum.Combine(xsum, uint16(uint32(length)>>16))
	}
	return xsum
}

func gvisorAddr(a netip.Addr) tcpip.Address {
	if a.Is4() {
		return tcpip.AddrFrom4(a.As4())
	}
	return tcpip.AddrFrom16(a.As16())
}

// Transport computes the checksum of a TCP, UDP or ICMPv6 segment with its
// pseudo-header. The two bytes at csumOff are treated as zero. csumOff must
// be even.
func Transport(seg []byte, csumOff int, src, dst netip.Addr, proto uint8) uint16 {
	ac := PseudoHeader(src, dst, proto, len(seg))
	return Fold(sumSkipping(seg, csumOff, ac))
}

// Valid reports whether the checksum stored at csumOff in seg matches the one
// computed over the pseudo-header and seg with that field zeroed.
func Valid(seg []byte, csumOff int, src, dst netip.Addr, proto uint8) bool {
	if csumOff < 0 || csumOff+2 > len(seg) {
		return false
	}
	return binary.BigEndian.Uint16(seg[csumOff:]) == Transport(seg, csumOff, src, dst, proto)
}

// Header computes the checksum of b with the two bytes at csumOff treated as
// zero, without a pseudo-header. This is the IPv4 header, ICMPv4 and GRE
// variant.
func Header(b []byte, csumOff int) uint16 {
	return Fold(sumSkipping(b, csumOff, 0))
}

func sumSkipping(b []byte, off int, ac uint16) uint16 {
	if off < 0 || off+2 > len(b) {
		return Sum(b, ac)
	}
	ac = Sum(b[:off], ac)
	return Sum(b[off+2:], ac)
}

// Update rewrites the checksum stored in sum for a change of the covered
// bytes from old to new, following RFC 1624. old and new must have the same,
// even, length.
func Update(sum, old, new []byte) {
	if len(old) != len(new) {
		panic("checksum: old and new must be the same length")
	}
	if len(old)%2 != 0 {
		panic("checksum: old and new must be of even length")
	}
	// HC' = ~(C + (-m) + m') with C = ~HC, see RFC 1624 eqn. 3.
	c := ^binary.BigEndian.Uint16(sum)
	for len(new) > 0 {
		c = checksum.Combine(c, ^binary.BigEndian.Uint16(old))
		c = checksum.Combine(c, binary.BigEndian.Uint16(new))
		new, old = new[2:], old[2:]
	}
	checksum.Put(sum, ^c)
}
