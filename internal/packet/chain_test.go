package packet

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"example.com/pktchain/internal/checksum"
)

func TestExtractOutermost(t *testing.T) {
	c := buildGRE(t, seqBytes(8))
	tests := []struct {
		kind  Kind
		index int
		ok    bool
	}{
		{KindEthernet, 0, true},
		{KindIPv4, 1, true},
		{KindIP, 1, true},
		{KindGRE, 2, true},
		{KindUDP, 4, true},
		{KindIPv6, 0, false},
		{KindTCP, 0, false},
	}
	for _, tc := range tests {
		n, ok := c.Extract(tc.kind)
		if ok != tc.ok {
			t.Fatalf("Extract(%v) ok = %t, want %t", tc.kind, ok, tc.ok)
		}
		if ok && n.Index() != tc.index {
			t.Fatalf("Extract(%v) = node %d, want %d", tc.kind, n.Index(), tc.index)
		}
	}
}

func TestNavigation(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4UDP(t, seqBytes(30)))
	udp, _ := c.Last()
	ip, ok := udp.Parent()
	if !ok || ip.Kind() != KindIPv4 {
		t.Fatalf("Parent of UDP = %v, %t", ip.Kind(), ok)
	}
	if child, ok := ip.Child(); !ok || child.Index() != udp.Index() {
		t.Fatalf("Child of IPv4 = %d, %t", child.Index(), ok)
	}
	if _, ok := udp.Child(); ok {
		t.Fatalf("innermost node has a child")
	}
	if _, ok := c.Node(0).Parent(); ok {
		t.Fatalf("outermost node has a parent")
	}
	if udp.Chain() != c {
		t.Fatalf("node does not point back at its chain")
	}
	if _, ok := NewChain().Last(); ok {
		t.Fatalf("empty chain has a last node")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("Node(3) on a 3-node chain did not panic")
		}
	}()
	c.Node(3)
}

func TestNodePayloadAndBytes(t *testing.T) {
	frame := ethIPv4UDP(t, seqBytes(30))
	c := Parse(LinkEthernet, frame)
	ip, _ := c.Extract(KindIPv4)
	if !bytes.Equal(ip.Bytes(), frame[ethernetHeaderLen:]) {
		t.Fatalf("ipv4 Bytes = %x", ip.Bytes())
	}
	if !bytes.Equal(ip.Payload(), frame[ethernetHeaderLen+ipv4MinHeaderLen:]) {
		t.Fatalf("ipv4 Payload = %x", ip.Payload())
	}
	if ip.PayloadLen() != udpHeaderLen+30 {
		t.Fatalf("ipv4 PayloadLen = %d", ip.PayloadLen())
	}
	if c.WireLen() != len(frame) {
		t.Fatalf("WireLen = %d, want %d", c.WireLen(), len(frame))
	}
}

func TestUpdateAfterPayloadChange(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4UDP(t, seqBytes(30)))
	ipNode, _ := c.Extract(KindIPv4)
	ip, _ := ipNode.IPv4()
	udpNode, _ := c.Extract(KindUDP)
	udp, _ := udpNode.UDP()
	oldIPSum, oldUDPSum := ip.Checksum(), udp.Checksum()

	c.SetPayload(seqBytes(100))
	if !c.Pending() {
		t.Fatalf("SetPayload did not mark the chain pending")
	}
	if _, ok := c.View(); ok {
		t.Fatalf("View still contiguous after the payload moved")
	}
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	if got := ip.TotalLength(); got != ipv4MinHeaderLen+udpHeaderLen+100 {
		t.Fatalf("TotalLength = %d", got)
	}
	if got := udp.Length(); got != udpHeaderLen+100 {
		t.Fatalf("UDP Length = %d", got)
	}
	if ip.Checksum() == oldIPSum || udp.Checksum() == oldUDPSum {
		t.Fatalf("checksums unchanged after the payload grew")
	}
	if ip.Source() != v4A || ip.Destination() != v4B || udp.SourcePort() != 5353 || udp.DestinationPort() != 53 {
		t.Fatalf("addressing changed: %v", c)
	}
	// gopacket building the same packet from scratch must agree byte for
	// byte.
	if want := ethIPv4UDP(t, seqBytes(100)); !bytes.Equal(c.Bytes(), want) {
		t.Fatalf("recomputed packet differs from gopacket:\n got %x\nwant %x", c.Bytes(), want)
	}
}

func TestChecksumIdentity(t *testing.T) {
	for _, c := range []*Chain{
		Parse(LinkEthernet, ethIPv4TCP(t, seqBytes(41))),
		Parse(LinkEthernet, ethIPv6UDP(t, seqBytes(17))),
		Parse(LinkEthernet, ethIPv6ICMPv6(t)),
		buildGRE(t, seqBytes(13)),
	} {
		for _, n := range c.Nodes() {
			sum, ok := n.ComputeChecksum()
			if !ok {
				continue
			}
			f, _ := n.Field("checksum")
			if uint16(f.Value) != sum {
				t.Fatalf("%v: stored 0x%04x, computed 0x%04x", n.Kind(), f.Value, sum)
			}
			if !n.ValidChecksum() {
				t.Fatalf("%v: ValidChecksum false", n.Kind())
			}
		}
		if ip, ok := c.Extract(KindIPv4); ok && checksum.Internet(ip.Header()) != 0 {
			t.Fatalf("ipv4 header does not sum to zero")
		}
	}
}

func TestChecksumAbsent(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4UDP(t, seqBytes(30)))
	eth := c.Node(0)
	if _, ok := eth.ComputeChecksum(); ok {
		t.Fatalf("ethernet has a checksum")
	}
	if !eth.ValidChecksum() {
		t.Fatalf("node without checksum reported invalid")
	}

	g := buildGRE(t, nil)
	greNode, _ := g.Extract(KindGRE)
	gre, _ := greNode.GRE()
	gre.SetChecksumPresent(false)
	if _, ok := greNode.ComputeChecksum(); ok {
		t.Fatalf("gre without C bit computes a checksum")
	}
}

func TestUDPZeroChecksum(t *testing.T) {
	c := NewChain()
	if _, err := c.AddIPv4(v4A, v4B); err != nil {
		t.Fatalf("AddIPv4: %v", err)
	}
	udp, err := c.AddUDP(7, 9)
	if err != nil {
		t.Fatalf("AddUDP: %v", err)
	}
	c.SetPayload([]byte{0, 0})
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}

	udp.SetChecksum(0)
	if !udp.ValidChecksum() {
		t.Fatalf("zero udp checksum over ipv4 must be accepted")
	}

	// A payload word equal to the checksum drives the computed sum to zero,
	// which is sent as all ones.
	sum, _ := udp.ComputeChecksum()
	c.SetPayload([]byte{byte(sum >> 8), byte(sum)})
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	if got := udp.Checksum(); got != 0xffff {
		t.Fatalf("Checksum = 0x%04x, want 0xffff", got)
	}
	if !Parse(LinkRaw, c.Bytes()).ChecksumsValid() {
		t.Fatalf("reparsed all-ones checksum not valid")
	}

	v6 := Parse(LinkEthernet, ethIPv6UDP(t, seqBytes(20)))
	n, _ := v6.Extract(KindUDP)
	u, _ := n.UDP()
	u.SetChecksum(0)
	if u.ValidChecksum() {
		t.Fatalf("zero udp checksum over ipv6 accepted")
	}
}

func TestLengthOverflow(t *testing.T) {
	for _, ip := range []netip.Addr{v4A, v6A} {
		c := NewChain()
		var err error
		if ip.Is4() {
			_, err = c.AddIPv4(v4A, v4B)
		} else {
			_, err = c.AddIPv6(v6A, v6B)
		}
		if err != nil {
			t.Fatalf("adding ip: %v", err)
		}
		if _, err := c.AddUDP(1, 2); err != nil {
			t.Fatalf("AddUDP: %v", err)
		}
		c.SetPayload(make([]byte, 0x10000))
		if err := c.UpdateCalculatedValues(); !errors.Is(err, ErrMalformedLength) {
			t.Fatalf("%v: err = %v, want ErrMalformedLength", ip, err)
		}
	}

	c := NewChain()
	c.AddIPv6(v6A, v6B)
	c.SetPayload(make([]byte, 0xffff))
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("largest ipv6 payload rejected: %v", err)
	}
}

func TestResizeKeepsSiblings(t *testing.T) {
	payload := seqBytes(30)
	frame := ethIPv4TCP(t, payload)
	c := Parse(LinkEthernet, frame)
	n, _ := c.Extract(KindTCP)
	tcp, _ := n.TCP()

	mss := []byte{2, 4, 0x05, 0xb4}
	if err := tcp.SetOptions(mss); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	if _, ok := c.View(); ok {
		t.Fatalf("View contiguous after a header grew")
	}
	if !bytes.Equal(c.Payload(), payload) {
		t.Fatalf("payload changed by header resize: %x", c.Payload())
	}
	if !bytes.Equal(frame[len(frame)-len(payload):], payload) {
		t.Fatalf("resize wrote into the parsed buffer")
	}
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	if tcp.DataOffset() != 6 || !bytes.Equal(tcp.Options(), mss) {
		t.Fatalf("data offset %d options %x", tcp.DataOffset(), tcp.Options())
	}
	ip, _ := c.Extract(KindIPv4)
	ip4, _ := ip.IPv4()
	if got := ip4.TotalLength(); got != ipv4MinHeaderLen+tcpMinHeaderLen+4+30 {
		t.Fatalf("TotalLength = %d", got)
	}
	again := Parse(LinkEthernet, c.Bytes())
	if again.Err() != nil || !again.ChecksumsValid() || !bytes.Equal(again.Payload(), payload) {
		t.Fatalf("reparse after resize: %+v", again)
	}

	if err := tcp.SetOptions(make([]byte, 41)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversized options err = %v", err)
	}
}

func TestIPv4Options(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4UDP(t, seqBytes(30)))
	n, _ := c.Extract(KindIPv4)
	ip, _ := n.IPv4()
	if _, ok := n.Field("options"); ok {
		t.Fatalf("options field present on a 20-byte header")
	}
	if err := ip.SetOptions([]byte{0x94, 0x04, 0, 0}); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	if ip.IHL() != 6 || ip.TotalLength() != 24+udpHeaderLen+30 {
		t.Fatalf("IHL %d TotalLength %d", ip.IHL(), ip.TotalLength())
	}
	f, ok := n.Field("options")
	if !ok || f.Offset != 20 || f.Len != 4 {
		t.Fatalf("options field = %+v, %t", f, ok)
	}
	if !c.ChecksumsValid() {
		t.Fatalf("checksums invalid after adding options")
	}
	if err := ip.SetOptions(make([]byte, 41)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversized options err = %v", err)
	}
}

func TestFieldLookup(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4TCP(t, nil))
	ip, _ := c.Extract(KindIPv4)
	tests := []struct {
		name        string
		offset, len int
		value       uint64
	}{
		{"version", 0, 1, 4},
		{"ihl", 0, 1, 5},
		{"id", 4, 2, 0x1234},
		{"flags", 6, 1, IPv4DontFragment},
		{"frag_offset", 6, 2, 0},
		{"ttl", 8, 1, 64},
		{"protocol", 9, 1, uint64(IPProtoTCP)},
	}
	for _, tc := range tests {
		f, ok := ip.Field(tc.name)
		if !ok {
			t.Fatalf("field %q missing", tc.name)
		}
		if f.Offset != tc.offset || f.Len != tc.len || f.Value != tc.value {
			t.Fatalf("%s = off %d len %d value %d, want %d/%d/%d", tc.name, f.Offset, f.Len, f.Value, tc.offset, tc.len, tc.value)
		}
	}
	src, _ := ip.Field("src")
	if src.String() != v4A.String() {
		t.Fatalf("src = %s", src)
	}
	if _, ok := ip.Field("hop_limit"); ok {
		t.Fatalf("ipv4 has a hop_limit field")
	}
}

func TestSetField(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv6UDP(t, seqBytes(30)))
	ip, _ := c.Extract(KindIPv6)
	if err := ip.SetField("hop_limit", 9); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if !c.Pending() {
		t.Fatalf("SetField did not mark the chain pending")
	}
	if v, _ := ip.IPv6(); v.HopLimit() != 9 {
		t.Fatalf("HopLimit = %d", v.HopLimit())
	}
	if err := ip.SetField("flow_label", 0xfffff); err != nil {
		t.Fatalf("SetField flow_label: %v", err)
	}
	if v, _ := ip.IPv6(); v.FlowLabel() != 0xfffff || v.TrafficClass() != 0 {
		t.Fatalf("flow label write spilled: tc %d fl %x", v.TrafficClass(), v.FlowLabel())
	}
	dst := v6A.As16()
	if err := ip.SetFieldBytes("dst", dst[:]); err != nil {
		t.Fatalf("SetFieldBytes: %v", err)
	}
	if v, _ := ip.IPv6(); v.Destination() != v6A {
		t.Fatalf("Destination = %v", v.Destination())
	}
	if err := c.UpdateCalculatedValues(); err != nil || c.Pending() {
		t.Fatalf("UpdateCalculatedValues: %v pending %t", err, c.Pending())
	}

	v4 := Parse(LinkEthernet, ethIPv4TCP(t, nil))
	tcpNode, _ := v4.Extract(KindTCP)
	ipNode, _ := v4.Extract(KindIPv4)
	errs := []struct {
		name string
		err  error
	}{
		{"unknown field", ipNode.SetField("flow", 1)},
		{"overflow", ipNode.SetField("ttl", 256)},
		{"layout", ipNode.SetField("ihl", 6)},
		{"layout tcp", tcpNode.SetField("data_offset", 6)},
		{"absent", tcpNode.SetField("options", 0)},
		{"wide field", ip.SetField("src", 1)},
		{"short bytes", ip.SetFieldBytes("src", []byte{1, 2, 3, 4})},
		{"sub-byte bytes", ipNode.SetFieldBytes("flags", []byte{1})},
	}
	for _, e := range errs {
		if !errors.Is(e.err, ErrInvalidArgument) {
			t.Fatalf("%s: err = %v, want ErrInvalidArgument", e.name, e.err)
		}
	}
}

func TestSetterOverflowPanics(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4TCP(t, nil))
	n, _ := c.Extract(KindIPv4)
	ip, _ := n.IPv4()
	defer func() {
		if recover() == nil {
			t.Fatalf("SetFlags(8) did not panic")
		}
	}()
	ip.SetFlags(8)
}

func TestTCPFlags(t *testing.T) {
	c := Parse(LinkEthernet, ethIPv4TCP(t, nil))
	n, _ := c.Extract(KindTCP)
	tcp, _ := n.TCP()
	if got := tcp.Flags(); got != TCPSyn|TCPAck {
		t.Fatalf("Flags = %#x", got)
	}
	if s := tcpFlagString(tcp.Flags()); s != "SA" {
		t.Fatalf("flag string = %q", s)
	}
	tcp.SetFlags(TCPNs | TCPFin)
	if tcp.Flags() != TCPNs|TCPFin || tcp.DataOffset() != 5 || tcp.Reserved() != 0 {
		t.Fatalf("SetFlags disturbed neighbours: off %d res %d flags %#x", tcp.DataOffset(), tcp.Reserved(), tcp.Flags())
	}
}
