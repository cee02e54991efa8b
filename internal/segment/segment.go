// Package segment provides zero-copy views over a shared packet buffer.
//
// A Segment addresses a span of a backing byte slice that is typically shared
// with sibling segments describing neighbouring protocol headers. Writes go
// straight through to the backing slice and are visible to every alias.
// Growth never mutates shared storage: the grown segment is rebound onto a
// fresh buffer, leaving sibling views untouched.
//
// Segments are not safe for concurrent use.
package segment

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an access addresses bytes outside a segment
// or its backing buffer.
var ErrOutOfRange = errors.New("segment: out of range")

// Segment is a view of n bytes starting at off within buf.
//
// When the span reaches past the bytes actually present in buf (for example a
// declared length longer than a truncated capture), needsCopy is set and the
// view can no longer alias buf; reads return zero-padded copies until the
// segment is materialized.
type Segment struct {
	buf       []byte
	off       int
	n         int
	needsCopy bool
}

// New returns the view buf[off:off+n]. The span must lie within buf.
func New(buf []byte, off, n int) (Segment, error) {
	if off < 0 || n < 0 || off+n > len(buf) {
		return Segment{}, fmt.Errorf("%w: span [%d,%d) in buffer of %d bytes", ErrOutOfRange, off, off+n, len(buf))
	}
	return Segment{buf: buf, off: off, n: n}, nil
}

// Of returns a view covering all of b.
func Of(b []byte) Segment {
	return Segment{buf: b, n: len(b)}
}

// Offset returns the position of the view within its backing buffer.
func (s Segment) Offset() int { return s.off }

// Len returns the logical length of the view.
func (s Segment) Len() int { return s.n }

// NeedsCopy reports whether the span extends past the captured bytes, so that
// reads cannot alias the backing buffer.
func (s Segment) NeedsCopy() bool { return s.needsCopy }

// Captured returns how many bytes of the span are present in the backing
// buffer.
func (s Segment) Captured() int {
	avail := len(s.buf) - s.off
	if avail < 0 {
		return 0
	}
	if avail > s.n {
		return s.n
	}
	return avail
}

// Next returns the n-byte segment that immediately follows s in the same
// buffer. If that span reaches past the captured bytes the returned segment
// has NeedsCopy set.
func (s Segment) Next(n int) Segment {
	if n < 0 {
		n = 0
	}
	next := Segment{buf: s.buf, off: s.off + s.n, n: n}
	next.needsCopy = next.off+n > len(s.buf)
	return next
}

// Rest returns the segment spanning from the end of s to the end of the
// backing buffer.
func (s Segment) Rest() Segment {
	end := s.off + s.n
	if end > len(s.buf) {
		end = len(s.buf)
	}
	return Segment{buf: s.buf, off: end, n: len(s.buf) - end}
}

// Sub returns the n-byte view starting i bytes into s.
func (s Segment) Sub(i, n int) (Segment, error) {
	if i < 0 || n < 0 || i+n > s.n {
		return Segment{}, fmt.Errorf("%w: sub-span [%d,%d) of %d-byte segment", ErrOutOfRange, i, i+n, s.n)
	}
	sub := Segment{buf: s.buf, off: s.off + i, n: n}
	sub.needsCopy = sub.off+n > len(s.buf)
	return sub, nil
}

// At returns the byte at position i of the view.
func (s Segment) At(i int) (byte, error) {
	if i < 0 || i >= s.n || s.off+i >= len(s.buf) {
		return 0, fmt.Errorf("%w: index %d of %d-byte segment", ErrOutOfRange, i, s.n)
	}
	return s.buf[s.off+i], nil
}

// Slice returns an alias of n bytes starting i bytes into the view. Bytes that
// were never captured cannot be aliased and yield ErrOutOfRange.
func (s Segment) Slice(i, n int) ([]byte, error) {
	if i < 0 || n < 0 || i+n > s.n || s.off+i+n > len(s.buf) {
		return nil, fmt.Errorf("%w: slice [%d,%d) of %d-byte segment", ErrOutOfRange, i, i+n, s.n)
	}
	start := s.off + i
	return s.buf[start : start+n : start+n], nil
}

// Bytes returns the contents of the view. The result aliases the backing
// buffer unless NeedsCopy is set, in which case a zero-padded copy is
// allocated.
func (s Segment) Bytes() []byte {
	if !s.needsCopy {
		return s.buf[s.off : s.off+s.n : s.off+s.n]
	}
	out := make([]byte, s.n)
	if s.off < len(s.buf) {
		copy(out, s.buf[s.off:])
	}
	return out
}

// Write copies p into the view at position i. A write reaching past the
// captured bytes materializes the segment first.
func (s *Segment) Write(i int, p []byte) error {
	if i < 0 || i+len(p) > s.n {
		return fmt.Errorf("%w: write [%d,%d) to %d-byte segment", ErrOutOfRange, i, i+len(p), s.n)
	}
	if s.needsCopy || s.off+i+len(p) > len(s.buf) {
		s.Materialize()
	}
	copy(s.buf[s.off+i:], p)
	return nil
}

// SetByte writes v at position i of the view.
func (s *Segment) SetByte(i int, v byte) error {
	var b [1]byte
	b[0] = v
	return s.Write(i, b[:])
}

// Materialize returns an owned, contiguous copy of the view. If the view
// could not alias its buffer it is rebound onto the returned storage and
// NeedsCopy is cleared.
func (s *Segment) Materialize() Owned {
	b := s.Bytes()
	if s.needsCopy {
		s.rebind(b)
	}
	return NewOwned(b)
}

// Resize changes the logical length of the view. Shrinking happens in place.
// Growth never touches shared storage: the view is rebound onto a new buffer
// holding its previous contents followed by zeros.
func (s *Segment) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrOutOfRange, n)
	}
	if n <= s.n {
		s.n = n
		if !s.needsCopy {
			return nil
		}
		s.needsCopy = s.off+n > len(s.buf)
		return nil
	}
	grown := make([]byte, n)
	copy(grown, s.Bytes())
	s.rebind(grown)
	return nil
}

// Follows reports whether s begins exactly where prev ends, in the same
// backing buffer, with neither view requiring a copy.
func (s Segment) Follows(prev Segment) bool {
	if s.needsCopy || prev.needsCopy {
		return false
	}
	if !sameBacking(s.buf, prev.buf) {
		return false
	}
	return prev.off+prev.n == s.off
}

// Join returns a single view spanning segs when every non-empty segment
// follows the previous one in the same buffer. ok is false otherwise.
func Join(segs ...Segment) (joined Segment, ok bool) {
	first := true
	var prev Segment
	for _, s := range segs {
		if s.n == 0 {
			continue
		}
		if first {
			if s.needsCopy {
				return Segment{}, false
			}
			joined = Segment{buf: s.buf, off: s.off, n: s.n}
			first = false
			prev = s
			continue
		}
		if !s.Follows(prev) {
			return Segment{}, false
		}
		joined.n += s.n
		prev = s
	}
	if first {
		return Segment{}, true
	}
	return joined, true
}

// Flatten copies the contents of segs, in order, into one owned buffer.
func Flatten(segs ...Segment) Owned {
	total := 0
	for _, s := range segs {
		total += s.n
	}
	out := make([]byte, 0, total)
	for _, s := range segs {
		out = append(out, s.Bytes()...)
	}
	return Owned{b: out}
}

func (s *Segment) rebind(b []byte) {
	s.buf = b
	s.off = 0
	s.n = len(b)
	s.needsCopy = false
}

func sameBacking(a, b []byte) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return cap(a) == 0 && cap(b) == 0
	}
	return len(a) == len(b) && &a[:1][0] == &b[:1][0]
}

// Owned is a contiguous buffer that no other segment was created over.
// It is the result of materializing or flattening views.
type Owned struct {
	b []byte
}

// NewOwned copies b into a new Owned buffer.
func NewOwned(b []byte) Owned {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Owned{b: cp}
}

// Bytes returns the owned storage.
func (o Owned) Bytes() []byte { return o.b }

// Len returns the length of the owned storage.
func (o Owned) Len() int { return len(o.b) }

// View returns a segment aliasing the whole owned buffer.
func (o Owned) View() Segment { return Of(o.b) }
