package packet

import (
	"fmt"

	"example.com/pktchain/internal/segment"
)

// Parse decodes b into a chain of headers starting with the protocol implied
// by link. The chain takes ownership of b and aliases it.
//
// Parse never fails. A header that does not fit the remaining bytes, or a
// selector with no registered protocol, ends the chain and the remaining
// bytes become its opaque payload. Such anomalies are reported by Chain.Err.
func Parse(link LinkType, b []byte) *Chain {
	c := &Chain{link: link}
	kind, err := linkFirst(link, b)
	start, end := 0, len(b)
	for {
		if start == end {
			break
		}
		if kind == KindUnknown {
			if err != nil {
				c.recordErr(err)
			}
			break
		}
		p := protoFor(kind)
		avail := b[start:end]
		if len(avail) < p.minLen {
			c.recordErr(fmt.Errorf("%w: %v header needs %d bytes, %d remain", ErrMalformedLength, kind, p.minLen, len(avail)))
			break
		}
		hl := p.headerLen(avail)
		if hl < p.minLen {
			c.recordErr(fmt.Errorf("%w: %v header length field", ErrMalformedLength, kind))
			break
		}
		if hl > len(avail) {
			c.recordErr(fmt.Errorf("%w: %v header of %d bytes, %d remain", ErrMalformedLength, kind, hl, len(avail)))
			break
		}
		extent := len(avail)
		if p.extent != nil {
			if e, ok := p.extent(avail[:hl]); ok {
				switch {
				case e < hl:
					c.recordErr(fmt.Errorf("%w: %v declares %d bytes inside a %d-byte header", ErrMalformedLength, kind, e, hl))
				case e > len(avail):
					c.recordErr(fmt.Errorf("%w: %v declares %d bytes, %d captured", ErrMalformedLength, kind, e, len(avail)))
				default:
					extent = e
				}
			}
		}
		hdr, _ := segment.New(b, start, hl)
		trailer, _ := segment.New(b, start+extent, end-start-extent)
		c.nodes = append(c.nodes, node{kind: kind, hdr: hdr, trailer: trailer})
		if p.terminal() {
			kind, err = KindUnknown, nil
		} else {
			kind, err = p.next(avail[:hl])
		}
		end = start + extent
		start += hl
	}
	c.payload, _ = segment.New(b, start, end-start)
	return c
}
