package packet

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	macA = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	macB = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	v4A = netip.MustParseAddr("192.0.2.1")
	v4B = netip.MustParseAddr("198.51.100.7")
	v6A = netip.MustParseAddr("2001:db8::1")
	v6B = netip.MustParseAddr("2001:db8:ffff::42")
)

// mkPacket serializes layers with gopacket, fixing lengths and checksums.
// Transport layers are bound to the preceding network layer.
func mkPacket(t *testing.T, ll ...gopacket.SerializableLayer) []byte {
	t.Helper()
	var nl gopacket.NetworkLayer
	for _, la := range ll {
		switch la := la.(type) {
		case *layers.IPv4:
			nl = la
		case *layers.IPv6:
			nl = la
		case *layers.TCP:
			la.SetNetworkLayerForChecksum(nl)
		case *layers.UDP:
			la.SetNetworkLayerForChecksum(nl)
		case *layers.ICMPv6:
			la.SetNetworkLayerForChecksum(nl)
		}
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ll...); err != nil {
		t.Fatalf("serializing packet: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func seqBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func ethIPv4TCP(t *testing.T, payload []byte) []byte {
	t.Helper()
	return mkPacket(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{Version: 4, TTL: 64, Id: 0x1234, Flags: layers.IPv4DontFragment, Protocol: layers.IPProtocolTCP, SrcIP: v4A.AsSlice(), DstIP: v4B.AsSlice()},
		&layers.TCP{SrcPort: 43210, DstPort: 443, Seq: 1000, Ack: 2000, SYN: true, ACK: true, Window: 29200},
		gopacket.Payload(payload),
	)
}

func ethIPv4UDP(t *testing.T, payload []byte) []byte {
	t.Helper()
	return mkPacket(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{Version: 4, TTL: 32, Protocol: layers.IPProtocolUDP, SrcIP: v4A.AsSlice(), DstIP: v4B.AsSlice()},
		&layers.UDP{SrcPort: 5353, DstPort: 53},
		gopacket.Payload(payload),
	)
}

func ethIPv6UDP(t *testing.T, payload []byte) []byte {
	t.Helper()
	return mkPacket(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv6},
		&layers.IPv6{Version: 6, HopLimit: 64, FlowLabel: 0xabcde, NextHeader: layers.IPProtocolUDP, SrcIP: v6A.AsSlice(), DstIP: v6B.AsSlice()},
		&layers.UDP{SrcPort: 4500, DstPort: 4501},
		gopacket.Payload(payload),
	)
}

// ethIPv6ICMPv6 is an echo request with hop limit 255 carrying 12 bytes
// after the 4-byte ICMPv6 header, so the IPv6 payload length is 16.
func ethIPv6ICMPv6(t *testing.T) []byte {
	t.Helper()
	return mkPacket(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv6},
		&layers.IPv6{Version: 6, HopLimit: 255, NextHeader: layers.IPProtocolICMPv6, SrcIP: v6A.AsSlice(), DstIP: v6B.AsSlice()},
		&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)},
		gopacket.Payload(seqBytes(12)),
	)
}

func kinds(c *Chain) []Kind {
	out := make([]Kind, 0, c.Len())
	for _, n := range c.Nodes() {
		out = append(out, n.Kind())
	}
	return out
}

// buildGRE returns Ethernet/IPv4/GRE/IPv4/UDP with the GRE checksum and key
// present, recomputed.
func buildGRE(t *testing.T, payload []byte) *Chain {
	t.Helper()
	c := NewChain()
	if _, err := c.AddEthernet(macA, macB); err != nil {
		t.Fatalf("AddEthernet: %v", err)
	}
	if _, err := c.AddIPv4(v4A, v4B); err != nil {
		t.Fatalf("AddIPv4: %v", err)
	}
	g, err := c.AddGRE()
	if err != nil {
		t.Fatalf("AddGRE: %v", err)
	}
	g.SetChecksumPresent(true)
	g.SetKey(0xfeedbeef)
	if _, err := c.AddIPv4(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")); err != nil {
		t.Fatalf("inner AddIPv4: %v", err)
	}
	if _, err := c.AddUDP(1000, 2000); err != nil {
		t.Fatalf("AddUDP: %v", err)
	}
	c.SetPayload(payload)
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	return c
}
