package packet

import "fmt"

// protocol holds everything the chain needs to know about one header kind.
// Each protocol file registers one from init.
type protocol struct {
	kind   Kind
	fields []Field
	minLen int

	// headerLen returns the header length declared by b, which holds at
	// least minLen bytes. A negative result marks the header as malformed.
	headerLen func(b []byte) int
	// extent returns the header plus content length declared by hdr. ok is
	// false when the node runs to the end of the enclosing region.
	extent func(hdr []byte) (n int, ok bool)
	// next returns the kind selected by hdr. KindUnknown with a nil error
	// ends the chain without an anomaly.
	next func(hdr []byte) (Kind, error)
	// fix rewrites length fields given the bytes that follow the header
	// within the node's extent.
	fix func(n Node, content int) error
	// link points the selector of n at child.
	link func(n Node, child Kind) error

	csum    *checksumRule
	summary func(n Node) string
}

type checksumCover uint8

const (
	coverHeader checksumCover = iota // header bytes only
	coverRegion                      // header and content
	coverPseudo                      // pseudo-header, header and content
)

type checksumRule struct {
	cover checksumCover
	// offset returns where the checksum is stored. ok is false when the
	// header currently carries none.
	offset func(hdr []byte) (int, bool)
	// late checksums cover already final inner checksums and are computed
	// after every other one.
	late  bool
	proto IPProto
}

func fixedOffset(off int) func([]byte) (int, bool) {
	return func([]byte) (int, bool) { return off, true }
}

var protocols [numKinds]*protocol

var unknownProtocol = &protocol{kind: KindUnknown}

func register(p *protocol) {
	protocols[p.kind] = p
}

func protoFor(k Kind) *protocol {
	if k < numKinds && protocols[k] != nil {
		return protocols[k]
	}
	return unknownProtocol
}

func (p *protocol) terminal() bool {
	return p.next == nil
}

var etherTypeKinds = map[EtherType]Kind{
	EtherTypeIPv4: KindIPv4,
	EtherTypeIPv6: KindIPv6,
	EtherTypeARP:  KindARP,
	EtherTypeVLAN: KindVLAN,
}

var ipProtoKinds = map[IPProto]Kind{
	IPProtoICMPv4: KindICMPv4,
	IPProtoIPv4:   KindIPv4,
	IPProtoTCP:    KindTCP,
	IPProtoUDP:    KindUDP,
	IPProtoIPv6:   KindIPv6,
	IPProtoGRE:    KindGRE,
	IPProtoICMPv6: KindICMPv6,
}

// kindForEtherType maps an ethertype to a kind. 802.1Q tags are only
// recognized directly inside Ethernet or another tag.
func kindForEtherType(t EtherType, gre bool) (Kind, error) {
	if k, ok := etherTypeKinds[t]; ok && !(gre && k == KindVLAN) {
		return k, nil
	}
	if gre && t == EtherTypeEthernet {
		return KindEthernet, nil
	}
	return KindUnknown, fmt.Errorf("%w: ethertype %v", ErrUnknownProtocol, t)
}

func etherTypeFor(k Kind, gre bool) (EtherType, bool) {
	for t, kind := range etherTypeKinds {
		if kind == k && !(gre && k == KindVLAN) {
			return t, true
		}
	}
	if gre && k == KindEthernet {
		return EtherTypeEthernet, true
	}
	return 0, false
}

func kindForIPProto(p IPProto) (Kind, error) {
	if k, ok := ipProtoKinds[p]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: ip protocol %v", ErrUnknownProtocol, p)
}

func ipProtoFor(k Kind) (IPProto, bool) {
	for p, kind := range ipProtoKinds {
		if kind == k {
			return p, true
		}
	}
	return 0, false
}

// linkFirst returns the kind of the first header for a link type.
func linkFirst(link LinkType, b []byte) (Kind, error) {
	switch link {
	case LinkEthernet:
		return KindEthernet, nil
	case LinkIPv4:
		return KindIPv4, nil
	case LinkIPv6:
		return KindIPv6, nil
	case LinkRaw:
		if len(b) == 0 {
			return KindUnknown, nil
		}
		switch b[0] >> 4 {
		case 4:
			return KindIPv4, nil
		case 6:
			return KindIPv6, nil
		}
		return KindUnknown, fmt.Errorf("%w: raw link with ip version %d", ErrUnknownProtocol, b[0]>>4)
	}
	return KindUnknown, fmt.Errorf("%w: link type %v", ErrUnknownProtocol, link)
}

// linkFor returns the link type a chain starting with k is tagged with.
func linkFor(k Kind) (LinkType, bool) {
	switch k {
	case KindEthernet:
		return LinkEthernet, true
	case KindIPv4, KindIPv6:
		return LinkRaw, true
	}
	return 0, false
}
