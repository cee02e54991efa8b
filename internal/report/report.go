package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"example.com/pktchain/internal/capture"
	"example.com/pktchain/internal/packet"
)

// MaxFindings bounds the findings kept in a report. Summary counters keep
// counting past it.
const MaxFindings = 1000

// FindingKind classifies one problem found in a record.
type FindingKind string

const (
	FindingTruncated       FindingKind = "truncated"
	FindingMalformed       FindingKind = "malformed-length"
	FindingUnknownProtocol FindingKind = "unknown-protocol"
	FindingChecksum        FindingKind = "checksum"
)

// CaptureReport summarizes a decoded capture.
type CaptureReport struct {
	File      string       `json:"file"`
	Sha256    string       `json:"sha256"`
	Size      int64        `json:"size"`
	Link      string       `json:"link"`
	CreatedAt time.Time    `json:"createdAt"`
	Summary   Summary      `json:"summary"`
	Stacks    []StackCount `json:"stacks"`
	Findings  []Finding    `json:"findings"`
}

type Summary struct {
	Packets      int   `json:"packets"`
	Bytes        int64 `json:"bytes"`
	Truncated    int   `json:"truncated"`
	Anomalies    int   `json:"anomalies"`
	BadChecksums int   `json:"badChecksums"`
	Pass         bool  `json:"pass"`
}

// StackCount counts the records sharing one layering, such as
// "Ethernet/IPv4/TCP".
type StackCount struct {
	Stack   string `json:"stack"`
	Packets int    `json:"packets"`
	Bytes   int64  `json:"bytes"`
}

type Finding struct {
	Packet  int         `json:"packet"`
	Kind    FindingKind `json:"kind"`
	Layer   string      `json:"layer,omitempty"`
	Message string      `json:"message"`
	Summary string      `json:"summary,omitempty"`
	Ts      time.Time   `json:"ts"`
}

// Builder accumulates records into a CaptureReport.
type Builder struct {
	rep    CaptureReport
	stacks map[string]*StackCount
}

// NewBuilder starts a report for the capture file described by the
// arguments.
func NewBuilder(file, sha256 string, size int64, link packet.LinkType) *Builder {
	return &Builder{
		rep: CaptureReport{
			File:   file,
			Sha256: sha256,
			Size:   size,
			Link:   link.String(),
		},
		stacks: make(map[string]*StackCount),
	}
}

// Add records one capture record and its parsed chain.
func (b *Builder) Add(rec capture.Record, c *packet.Chain) {
	s := &b.rep.Summary
	s.Packets++
	s.Bytes += int64(len(rec.Data))

	stack := StackName(c)
	sc := b.stacks[stack]
	if sc == nil {
		sc = &StackCount{Stack: stack}
		b.stacks[stack] = sc
	}
	sc.Packets++
	sc.Bytes += int64(len(rec.Data))

	if rec.Truncated() {
		s.Truncated++
		b.find(rec, c, Finding{
			Kind:    FindingTruncated,
			Message: fmt.Sprintf("captured %d of %d bytes", len(rec.Data), rec.OrigLen),
		})
	}
	if err := c.Err(); err != nil {
		s.Anomalies++
		kind := FindingMalformed
		if errors.Is(err, packet.ErrUnknownProtocol) {
			kind = FindingUnknownProtocol
		}
		b.find(rec, c, Finding{Kind: kind, Message: err.Error()})
	}
	if rec.Truncated() {
		// Checksums cover bytes that were never captured.
		return
	}
	for _, n := range c.Nodes() {
		if n.ValidChecksum() {
			continue
		}
		s.BadChecksums++
		f, _ := n.Field("checksum")
		want, _ := n.ComputeChecksum()
		b.find(rec, c, Finding{
			Kind:    FindingChecksum,
			Layer:   n.Kind().String(),
			Message: fmt.Sprintf("stored 0x%04x, computed 0x%04x", f.Value, want),
		})
	}
}

func (b *Builder) find(rec capture.Record, c *packet.Chain, f Finding) {
	if len(b.rep.Findings) >= MaxFindings {
		return
	}
	f.Packet = rec.Index
	f.Ts = rec.Timestamp
	f.Summary = c.String()
	b.rep.Findings = append(b.rep.Findings, f)
}

// Report returns the finished report. Stacks are ordered by packet count.
func (b *Builder) Report() CaptureReport {
	rep := b.rep
	rep.CreatedAt = time.Now().UTC()
	rep.Summary.Pass = rep.Summary.Anomalies == 0 && rep.Summary.BadChecksums == 0
	rep.Stacks = make([]StackCount, 0, len(b.stacks))
	for _, sc := range b.stacks {
		rep.Stacks = append(rep.Stacks, *sc)
	}
	sort.Slice(rep.Stacks, func(i, j int) bool {
		if rep.Stacks[i].Packets != rep.Stacks[j].Packets {
			return rep.Stacks[i].Packets > rep.Stacks[j].Packets
		}
		return rep.Stacks[i].Stack < rep.Stacks[j].Stack
	})
	rep.Findings = append([]Finding(nil), b.rep.Findings...)
	return rep
}

// StackName joins the kinds of c outermost first, e.g. "Ethernet/IPv6/UDP".
// A chain without nodes is "Opaque".
func StackName(c *packet.Chain) string {
	if c.Len() == 0 {
		return "Opaque"
	}
	names := make([]string, 0, c.Len())
	for _, n := range c.Nodes() {
		names = append(names, n.Kind().String())
	}
	return strings.Join(names, "/")
}

func SaveJSON(rep CaptureReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (CaptureReport, error) {
	var rep CaptureReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
