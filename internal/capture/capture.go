// Package capture reads and writes pcap files of packet chains.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"example.com/pktchain/internal/common"
	"example.com/pktchain/internal/packet"
)

const (
	// DefaultSnapLen is written to new file headers.
	DefaultSnapLen = 262144

	fileHeaderSize   = 24
	recordHeaderSize = 16
)

var ErrLinkMismatch = errors.New("chain link type does not match capture")

// pcap numbers the supported link types the same way LinkType does.
func toPcap(l packet.LinkType) (layers.LinkType, error) {
	switch l {
	case packet.LinkEthernet, packet.LinkRaw, packet.LinkIPv4, packet.LinkIPv6:
		return layers.LinkType(l), nil
	}
	return 0, fmt.Errorf("%w: no pcap link type for %v", packet.ErrInvalidArgument, l)
}

// Some platforms write their DLT values for raw IP into the file header
// instead of LINKTYPE_RAW.
const (
	dltRawBSD     layers.LinkType = 12
	dltRawOpenBSD layers.LinkType = 14
)

func fromPcap(lt layers.LinkType) packet.LinkType {
	switch lt {
	case dltRawBSD, dltRawOpenBSD:
		return packet.LinkRaw
	}
	return packet.LinkType(lt)
}

// Record is one captured frame.
type Record struct {
	Index     int
	Timestamp time.Time
	Link      packet.LinkType
	Data      []byte
	// OrigLen is the frame length on the wire, which exceeds len(Data) when
	// the capture was truncated to the snap length.
	OrigLen int
}

// Truncated reports whether the capture holds fewer bytes than were sent.
func (r Record) Truncated() bool { return r.OrigLen > len(r.Data) }

// Chain parses the record. The chain aliases Data.
func (r Record) Chain() *packet.Chain { return packet.Parse(r.Link, r.Data) }

// Reader iterates across the records of a pcap file.
type Reader struct {
	closer  io.Closer
	pcap    *pcapgo.Reader
	link    packet.LinkType
	size    int64
	next    int
	metrics *common.Metrics
}

// NewReader opens the pcap file at path.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewStreamReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	r.size = info.Size()
	return r, nil
}

// NewStreamReader reads a pcap stream from src.
func NewStreamReader(src io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	return &Reader{pcap: pr, link: fromPcap(pr.LinkType())}, nil
}

// Link returns the link type of every record in the file.
func (r *Reader) Link() packet.LinkType { return r.link }

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if m != nil {
		m.SetFileSize(r.size, fileHeaderSize)
	}
}

// Next returns the next record. It returns io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if r.pcap == nil {
		return Record{}, io.EOF
	}
	data, ci, err := r.pcap.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("record %d: %w", r.next, err)
	}
	rec := Record{
		Index:     r.next,
		Timestamp: ci.Timestamp,
		Link:      r.link,
		Data:      data,
		OrigLen:   ci.Length,
	}
	r.next++
	if r.metrics != nil {
		r.metrics.Read(int64(recordHeaderSize+len(data)), rec.Truncated())
	}
	return rec, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	r.pcap = nil
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Writer appends records to a pcap stream.
type Writer struct {
	closer io.Closer
	pcap   *pcapgo.Writer
	link   packet.LinkType
	count  int
}

// Create writes a new pcap file at path.
func Create(path string, link packet.LinkType) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, link)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes a pcap file header for link to dst.
func NewWriter(dst io.Writer, link packet.LinkType) (*Writer, error) {
	lt, err := toPcap(link)
	if err != nil {
		return nil, err
	}
	pw := pcapgo.NewWriter(dst)
	if err := pw.WriteFileHeader(DefaultSnapLen, lt); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{pcap: pw, link: link}, nil
}

// Write appends one frame captured at ts.
func (w *Writer) Write(ts time.Time, data []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.pcap.WritePacket(ci, data); err != nil {
		return fmt.Errorf("record %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// WriteChain appends the wire bytes of c. The chain must use the link type
// the file was created with.
func (w *Writer) WriteChain(ts time.Time, c *packet.Chain) error {
	if c.Link() != w.link {
		return fmt.Errorf("%w: %v chain in %v capture", ErrLinkMismatch, c.Link(), w.link)
	}
	return w.Write(ts, c.Bytes())
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.count }

// Close closes the file opened by Create. Writers over a caller's stream have
// nothing to close.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}
