// Package packet decodes captured frames into a chain of typed protocol
// views and encodes such chains back into wire bytes.
//
// A Chain produced by Parse aliases the buffer it was given: header accessors
// read and write that buffer in place. Derived fields (lengths, header lengths
// and checksums) are only correct after an explicit call to
// Chain.UpdateCalculatedValues.
//
// Chains are not safe for concurrent use.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedLength reports a declared length that does not fit the
	// available bytes or the field that stores it.
	ErrMalformedLength = errors.New("malformed length")
	// ErrUnknownProtocol reports a next-protocol selector with no
	// registered decoder.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrInvalidArgument reports construction input of the wrong width or
	// a layer that cannot be stacked where requested.
	ErrInvalidArgument = errors.New("invalid argument")
)

var (
	get16 = binary.BigEndian.Uint16
	get32 = binary.BigEndian.Uint32

	put16 = binary.BigEndian.PutUint16
	put32 = binary.BigEndian.PutUint32
)

// LinkType is the link-layer tag supplied with captured bytes. Values follow
// the pcap LINKTYPE registry.
type LinkType uint16

const (
	LinkEthernet LinkType = 1
	LinkRaw      LinkType = 101 // IPv4 or IPv6, chosen by the version nibble
	LinkIPv4     LinkType = 228
	LinkIPv6     LinkType = 229
)

func (l LinkType) String() string {
	switch l {
	case LinkEthernet:
		return "Ethernet"
	case LinkRaw:
		return "Raw"
	case LinkIPv4:
		return "IPv4"
	case LinkIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("LinkType(%d)", uint16(l))
	}
}

// ParseLinkType maps a name as accepted on command lines to a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	switch s {
	case "ethernet", "eth", "en10mb":
		return LinkEthernet, nil
	case "raw", "ip":
		return LinkRaw, nil
	case "ipv4", "ip4":
		return LinkIPv4, nil
	case "ipv6", "ip6":
		return LinkIPv6, nil
	}
	return 0, fmt.Errorf("%w: link type %q", ErrInvalidArgument, s)
}

// Kind identifies a protocol layer. KindIP is a class matching both IP
// versions and never appears on a node.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindEthernet
	KindARP
	KindIPv4
	KindIPv6
	KindTCP
	KindUDP
	KindICMPv4
	KindICMPv6
	KindGRE
	KindVLAN

	// KindIP matches IPv4 and IPv6 nodes in Extract.
	KindIP

	numKinds = KindIP
)

var kindNames = [...]string{
	KindUnknown:  "Unknown",
	KindEthernet: "Ethernet",
	KindARP:      "ARP",
	KindIPv4:     "IPv4",
	KindIPv6:     "IPv6",
	KindTCP:      "TCP",
	KindUDP:      "UDP",
	KindICMPv4:   "ICMPv4",
	KindICMPv6:   "ICMPv6",
	KindGRE:      "GRE",
	KindVLAN:     "VLAN",
	KindIP:       "IP",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Matches reports whether a node of kind node satisfies a query for k.
func (k Kind) Matches(node Kind) bool {
	if k == KindIP {
		return node == KindIPv4 || node == KindIPv6
	}
	return k == node
}

// EtherType is the next-protocol selector of Ethernet and GRE.
type EtherType uint16

const (
	EtherTypeIPv4     EtherType = 0x0800
	EtherTypeARP      EtherType = 0x0806
	EtherTypeVLAN     EtherType = 0x8100
	EtherTypeIPv6     EtherType = 0x86DD
	EtherTypeEthernet EtherType = 0x6558 // transparent Ethernet bridging, GRE only
)

func (e EtherType) String() string {
	switch e {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeEthernet:
		return "Ethernet"
	}
	if e <= 1500 {
		return fmt.Sprintf("Length(%d)", uint16(e))
	}
	return fmt.Sprintf("0x%04x", uint16(e))
}

// IPProto is the next-protocol selector of IPv4 (protocol) and IPv6 (next
// header).
type IPProto uint8

const (
	IPProtoICMPv4 IPProto = 1
	IPProtoIPv4   IPProto = 4
	IPProtoTCP    IPProto = 6
	IPProtoUDP    IPProto = 17
	IPProtoIPv6   IPProto = 41
	IPProtoGRE    IPProto = 47
	IPProtoICMPv6 IPProto = 58
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMPv4:
		return "ICMPv4"
	case IPProtoIPv4:
		return "IPv4"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	case IPProtoIPv6:
		return "IPv6"
	case IPProtoGRE:
		return "GRE"
	case IPProtoICMPv6:
		return "ICMPv6"
	default:
		return fmt.Sprintf("IPProto(%d)", uint8(p))
	}
}
