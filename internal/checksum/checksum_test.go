package checksum

import (
	"encoding/binary"
	"encoding/hex"
	"math/rand/v2"
	"net/netip"
	"testing"
)

func TestInternet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want uint16
	}{
		{name: "rfc1071 example", in: "0001f203f4f5f6f7", want: 0x220d},
		{name: "odd length", in: "0001f2", want: 0x0dfe},
		{name: "empty", in: "", want: 0xffff},
		{name: "ipv4 header", in: "450000730000400040110000c0a80001c0a800c7", want: 0xb861},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := hex.DecodeString(tc.in)
			if err != nil {
				t.Fatalf("bad test input: %v", err)
			}
			if got := Internet(b); got != tc.want {
				t.Fatalf("Internet = 0x%04x, want 0x%04x", got, tc.want)
			}
		})
	}
}

func TestHeaderSkipsChecksumField(t *testing.T) {
	hdr, _ := hex.DecodeString("45000073000040004011b861c0a80001c0a800c7")
	if got := Header(hdr, 10); got != 0xb861 {
		t.Fatalf("Header = 0x%04x, want 0xb861", got)
	}
	// A correct header sums to zero with its checksum in place.
	if got := Internet(hdr); got != 0 {
		t.Fatalf("Internet over valid header = 0x%04x, want 0", got)
	}
}

func TestTransportRoundTrip(t *testing.T) {
	pairs := []struct {
		src, dst string
		proto    uint8
	}{
		{"192.168.1.1", "10.0.0.2", 17},
		{"10.1.2.3", "10.3.2.1", 6},
		{"2001:db8::1", "2001:db8::2", 17},
		{"fe80::1", "ff02::1", 58},
	}
	for _, p := range pairs {
		src, dst := netip.MustParseAddr(p.src), netip.MustParseAddr(p.dst)
		for _, size := range []int{8, 9, 20, 21, 64, 1001} {
			seg := make([]byte, size)
			for i := range seg {
				seg[i] = byte(rand.IntN(256))
			}
			sum := Transport(seg, 6, src, dst, p.proto)
			binary.BigEndian.PutUint16(seg[6:], sum)
			if !Valid(seg, 6, src, dst, p.proto) {
				t.Fatalf("%s > %s proto %d size %d: checksum not valid after write", src, dst, p.proto, size)
			}
			seg[size-1] ^= 0x01
			if Valid(seg, 6, src, dst, p.proto) {
				t.Fatalf("%s > %s size %d: corrupted segment still valid", src, dst, size)
			}
		}
	}
}

func TestPseudoHeaderLayouts(t *testing.T) {
	src4, dst4 := netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("5.6.7.8")
	want4 := Sum([]byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 6, 0, 40}, 0)
	if got := PseudoHeader(src4, dst4, 6, 40); got != want4 {
		t.Fatalf("ipv4 pseudo-header sum = 0x%x, want 0x%x", got, want4)
	}

	src6, dst6 := netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("2001:db8::2")
	raw := make([]byte, 0, 40)
	s, d := src6.As16(), dst6.As16()
	raw = append(raw, s[:]...)
	raw = append(raw, d[:]...)
	raw = append(raw, 0, 0, 0, 40, 0, 0, 0, 58)
	if got, want := PseudoHeader(src6, dst6, 58, 40), Sum(raw, 0); got != want {
		t.Fatalf("ipv6 pseudo-header sum = 0x%x, want 0x%x", got, want)
	}

	// Jumbogram lengths fill all 32 bits of the IPv6 length field.
	binary.BigEndian.PutUint32(raw[32:], 0x0001_2345)
	if got, want := PseudoHeader(src6, dst6, 58, 0x0001_2345), Sum(raw, 0); got != want {
		t.Fatalf("ipv6 jumbo pseudo-header sum = 0x%x, want 0x%x", got, want)
	}
}

func TestPseudoHeaderMixedFamiliesPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for mixed address families")
		}
	}()
	PseudoHeader(netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("::1"), 17, 8)
}

func TestUpdate(t *testing.T) {
	hdr, _ := hex.DecodeString("45000073000040004011b861c0a80001c0a800c7")
	old := append([]byte(nil), hdr[8:10]...)
	hdr[8] = 0x3f // TTL 64 -> 63
	Update(hdr[10:12], old, hdr[8:10])
	if got, want := binary.BigEndian.Uint16(hdr[10:]), Header(hdr, 10); got != want {
		t.Fatalf("incremental checksum = 0x%04x, full recompute = 0x%04x", got, want)
	}
}

func TestUpdateMatchesRecompute(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	hdr := make([]byte, 24)
	for i := range hdr {
		hdr[i] = byte(r.Uint32())
	}
	binary.BigEndian.PutUint16(hdr[10:], Header(hdr, 10))
	for i := 0; i < 200; i++ {
		off := 2 * r.IntN(len(hdr)/2)
		if off == 10 {
			continue
		}
		old := append([]byte(nil), hdr[off:off+2]...)
		binary.BigEndian.PutUint16(hdr[off:], uint16(r.Uint32()))
		Update(hdr[10:12], old, hdr[off:off+2])
		// 0x0000 and 0xffff are both zero in one's complement.
		if got, want := binary.BigEndian.Uint16(hdr[10:]), Header(hdr, 10); got != want && got^want != 0xffff {
			t.Fatalf("step %d: incremental 0x%04x, recompute 0x%04x", i, got, want)
		}
		binary.BigEndian.PutUint16(hdr[10:], Header(hdr, 10))
	}
}
