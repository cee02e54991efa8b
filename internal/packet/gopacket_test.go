package packet

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var gopacketTypes = map[Kind]gopacket.LayerType{
	KindEthernet: layers.LayerTypeEthernet,
	KindARP:      layers.LayerTypeARP,
	KindIPv4:     layers.LayerTypeIPv4,
	KindIPv6:     layers.LayerTypeIPv6,
	KindTCP:      layers.LayerTypeTCP,
	KindUDP:      layers.LayerTypeUDP,
	KindICMPv4:   layers.LayerTypeICMPv4,
	KindICMPv6:   layers.LayerTypeICMPv6,
	KindGRE:      layers.LayerTypeGRE,
	KindVLAN:     layers.LayerTypeDot1Q,
}

func firstLayer(c *Chain) gopacket.LayerType {
	if c.Len() == 0 {
		return gopacket.LayerTypePayload
	}
	return gopacketTypes[c.Node(0).Kind()]
}

// TestGopacketAgrees builds chains here, decodes them with gopacket and
// serializes gopacket's view again. Both encoders must produce the same
// bytes, apart from gopacket padding short Ethernet frames.
func TestGopacketAgrees(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, c *Chain)
	}{
		{
			name: "tcp with options",
			build: func(t *testing.T, c *Chain) {
				c.AddEthernet(macA, macB)
				ip, _ := c.AddIPv4(v4A, v4B)
				ip.SetTTL(17)
				ip.SetID(0xbeef)
				tcp, _ := c.AddTCP(40000, 40001)
				tcp.SetFlags(TCPPsh | TCPAck)
				tcp.SetSeq(0xfffffff0)
				if err := tcp.SetOptions([]byte{2, 4, 0x05, 0xb4}); err != nil {
					t.Fatalf("SetOptions: %v", err)
				}
				c.SetPayload(seqBytes(77))
			},
		},
		{
			name: "ipv6 udp",
			build: func(t *testing.T, c *Chain) {
				c.AddEthernet(macA, macB)
				ip, _ := c.AddIPv6(v6A, v6B)
				ip.SetTrafficClass(0xb8)
				ip.SetFlowLabel(0x12345)
				c.AddUDP(40000, 40001)
				c.SetPayload(seqBytes(9))
			},
		},
		{
			name: "icmpv4 echo",
			build: func(t *testing.T, c *Chain) {
				c.AddEthernet(macA, macB)
				c.AddIPv4(v4A, v4B)
				m, _ := c.AddICMPv4(ICMPv4EchoRequest, 0)
				m.SetID(0x4242)
				m.SetSeq(3)
				c.SetPayload(seqBytes(56))
			},
		},
		{
			name: "arp reply",
			build: func(t *testing.T, c *Chain) {
				c.AddEthernet(macA, macB)
				c.AddARP(ARPReply, macA, v4A, macB, v4B)
			},
		},
		{
			name: "vlan tagged udp",
			build: func(t *testing.T, c *Chain) {
				c.AddEthernet(macA, macB)
				v, _ := c.AddVLAN(100)
				v.SetPriority(5)
				v.SetDropEligible(true)
				c.AddIPv4(v4A, v4B)
				c.AddUDP(40000, 40001)
				c.SetPayload(seqBytes(30))
			},
		},
		{
			name: "gre with key",
			build: func(t *testing.T, c *Chain) {
				c.AddIPv4(v4A, v4B)
				g, _ := c.AddGRE()
				g.SetKey(77)
				c.AddIPv4(v4B, v4A)
				c.AddUDP(40000, 40001)
				c.SetPayload(seqBytes(12))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChain()
			tc.build(t, c)
			if err := c.UpdateCalculatedValues(); err != nil {
				t.Fatalf("UpdateCalculatedValues: %v", err)
			}
			ours := c.Bytes()

			p := gopacket.NewPacket(ours, firstLayer(c), gopacket.Default)
			if el := p.ErrorLayer(); el != nil {
				t.Fatalf("gopacket failed to decode: %v", el.Error())
			}
			var got []gopacket.LayerType
			var ser []gopacket.SerializableLayer
			for _, l := range p.Layers() {
				got = append(got, l.LayerType())
				sl, ok := l.(gopacket.SerializableLayer)
				if !ok {
					t.Fatalf("gopacket layer %v cannot serialize", l.LayerType())
				}
				ser = append(ser, sl)
			}
			var want []gopacket.LayerType
			for _, k := range kinds(c) {
				want = append(want, gopacketTypes[k])
			}
			if len(got) < len(want) {
				t.Fatalf("gopacket layers = %v, want prefix %v", got, want)
			}
			if diff := cmp.Diff(want, got[:len(want)]); diff != "" {
				t.Fatalf("layer stack (-ours +gopacket):\n%s", diff)
			}

			theirs := mkPacket(t, ser...)
			if !bytes.HasPrefix(theirs, ours) {
				t.Fatalf("gopacket re-encoding differs:\n ours %x\ntheirs %x", ours, theirs)
			}
			if tail := theirs[len(ours):]; len(tail) > 0 && !bytes.Equal(tail, make([]byte, len(tail))) {
				t.Fatalf("gopacket appended non-padding bytes %x", tail)
			}
		})
	}
}

func TestParseGopacketOptions(t *testing.T) {
	tcpOpts := []layers.TCPOption{
		{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
		{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2},
		{OptionType: layers.TCPOptionKindNop},
		{OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{7}},
	}
	frame := mkPacket(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{
			Version: 4, TTL: 1, Protocol: layers.IPProtocolTCP,
			SrcIP: v4A.AsSlice(), DstIP: v4B.AsSlice(),
			Options: []layers.IPv4Option{{OptionType: 148, OptionLength: 4, OptionData: []byte{0, 0}}},
		},
		&layers.TCP{SrcPort: 40000, DstPort: 40001, SYN: true, Window: 1024, Options: tcpOpts},
		gopacket.Payload(seqBytes(5)),
	)
	orig := append([]byte(nil), frame...)

	c := Parse(LinkEthernet, frame)
	if err := c.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	ipNode, _ := c.Extract(KindIPv4)
	ip, _ := ipNode.IPv4()
	if ip.IHL() != 6 || !bytes.Equal(ip.Options(), []byte{148, 4, 0, 0}) {
		t.Fatalf("ipv4 IHL %d options %x", ip.IHL(), ip.Options())
	}
	tcpNode, _ := c.Extract(KindTCP)
	tcp, _ := tcpNode.TCP()
	wantOpts := []byte{2, 4, 0x05, 0xb4, 4, 2, 1, 3, 3, 7}
	if !bytes.HasPrefix(tcp.Options(), wantOpts) || len(tcp.Options())%4 != 0 {
		t.Fatalf("tcp options = %x", tcp.Options())
	}
	if int(tcp.DataOffset())*4 != tcp.HeaderLen() {
		t.Fatalf("data offset %d for %d-byte header", tcp.DataOffset(), tcp.HeaderLen())
	}
	if !bytes.Equal(c.Payload(), seqBytes(5)) {
		t.Fatalf("payload = %x", c.Payload())
	}
	if !c.ChecksumsValid() {
		t.Fatalf("checksums invalid:\n%+v", c)
	}

	// A recompute of an untouched chain changes nothing.
	if err := c.UpdateCalculatedValues(); err != nil {
		t.Fatalf("UpdateCalculatedValues: %v", err)
	}
	if !bytes.Equal(c.Bytes(), orig) {
		t.Fatalf("recompute changed a consistent packet:\n got %x\nwant %x", c.Bytes(), orig)
	}
}
