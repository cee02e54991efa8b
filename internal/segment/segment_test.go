package segment

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewBounds(t *testing.T) {
	buf := make([]byte, 10)
	tests := []struct {
		name    string
		off, n  int
		wantErr bool
	}{
		{name: "whole", off: 0, n: 10},
		{name: "tail", off: 6, n: 4},
		{name: "empty at end", off: 10, n: 0},
		{name: "past end", off: 6, n: 5, wantErr: true},
		{name: "negative offset", off: -1, n: 2, wantErr: true},
		{name: "negative length", off: 0, n: -1, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(buf, tc.off, tc.n)
			if tc.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Fatalf("expected ErrOutOfRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
		})
	}
}

func TestReadsAreNeverClamped(t *testing.T) {
	s, err := New([]byte{1, 2, 3, 4, 5}, 1, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b, err := s.At(2); err != nil || b != 4 {
		t.Fatalf("At(2) = %d, %v; want 4", b, err)
	}
	if _, err := s.At(3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("At(3) err = %v, want ErrOutOfRange", err)
	}
	if _, err := s.Slice(1, 3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Slice(1,3) err = %v, want ErrOutOfRange", err)
	}
	got, err := s.Slice(0, 3)
	if err != nil || !bytes.Equal(got, []byte{2, 3, 4}) {
		t.Fatalf("Slice(0,3) = %v, %v", got, err)
	}
}

func TestWritesAlias(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 0, 0}
	a, _ := New(buf, 0, 3)
	b := a.Next(3)
	if b.NeedsCopy() {
		t.Fatalf("Next within buffer should alias")
	}
	if err := b.Write(0, []byte{7, 8}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(buf, []byte{0, 0, 0, 7, 8, 0}) {
		t.Fatalf("write did not reach backing buffer: %v", buf)
	}
	if !b.Follows(a) {
		t.Fatalf("Follows = false for adjacent views")
	}
	if a.Follows(b) {
		t.Fatalf("Follows = true in reverse order")
	}
}

func TestNeedsCopyPastCapture(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	head, _ := New(buf, 0, 2)
	tail := head.Next(6)
	if !tail.NeedsCopy() {
		t.Fatalf("span past capture must need a copy")
	}
	if got := tail.Captured(); got != 2 {
		t.Fatalf("Captured = %d, want 2", got)
	}
	got := tail.Bytes()
	if !bytes.Equal(got, []byte{3, 4, 0, 0, 0, 0}) {
		t.Fatalf("Bytes = %v, want zero padded copy", got)
	}
	got[0] = 99
	if buf[2] != 3 {
		t.Fatalf("copy aliased the backing buffer")
	}

	o := tail.Materialize()
	if tail.NeedsCopy() {
		t.Fatalf("Materialize left NeedsCopy set")
	}
	if o.Len() != 6 || tail.Len() != 6 {
		t.Fatalf("materialized lengths %d/%d, want 6", o.Len(), tail.Len())
	}
	if err := tail.SetByte(5, 9); err != nil {
		t.Fatalf("SetByte: %v", err)
	}
	if o.Bytes()[5] != 0 {
		t.Fatalf("Owned result shares storage with the rebound segment")
	}
}

func TestWritePastCaptureMaterializes(t *testing.T) {
	buf := []byte{1, 2, 3}
	s, _ := Of(buf[:1]).Sub(0, 1)
	long := s.Next(4)
	if err := long.Write(3, []byte{5}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if long.NeedsCopy() {
		t.Fatalf("Write past capture should materialize")
	}
	if !bytes.Equal(long.Bytes(), []byte{0, 0, 0, 5}) {
		t.Fatalf("Bytes = %v", long.Bytes())
	}
	if !bytes.Equal(buf, []byte{1, 2, 3}) {
		t.Fatalf("backing buffer modified: %v", buf)
	}
}

func TestResizeDoesNotCorruptSiblings(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	a, _ := New(buf, 0, 4)
	b := a.Next(4)

	if err := a.Resize(6); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if !bytes.Equal(a.Bytes(), []byte{1, 2, 3, 4, 0, 0}) {
		t.Fatalf("grown view = %v", a.Bytes())
	}
	if err := a.Write(4, []byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(b.Bytes(), []byte{5, 6, 7, 8}) {
		t.Fatalf("sibling corrupted: %v", b.Bytes())
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("backing buffer corrupted: %v", buf)
	}
	if b.Follows(a) {
		t.Fatalf("grown view must no longer be contiguous with its sibling")
	}

	if err := b.Resize(2); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if b.Offset() != 4 || !bytes.Equal(b.Bytes(), []byte{5, 6}) {
		t.Fatalf("shrink moved the view: off=%d %v", b.Offset(), b.Bytes())
	}
}

func TestJoin(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6}
	a, _ := New(buf, 0, 2)
	b := a.Next(0)
	c := a.Next(4)

	j, ok := Join(a, b, c)
	if !ok {
		t.Fatalf("contiguous views did not join")
	}
	if !bytes.Equal(j.Bytes(), buf) {
		t.Fatalf("joined = %v", j.Bytes())
	}

	other := NewOwned([]byte{3, 4, 5, 6}).View()
	if _, ok := Join(a, other); ok {
		t.Fatalf("views over different buffers joined")
	}
	flat := Flatten(a, other)
	if !bytes.Equal(flat.Bytes(), buf) {
		t.Fatalf("Flatten = %v", flat.Bytes())
	}

	if _, ok := Join(c, a); ok {
		t.Fatalf("out of order views joined")
	}
}
