package common

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics tallies one pass over a capture file. The reader reports every
// record it pulls from the file with Read and the decoder reports the chain
// it built with Decoded. Both may run while a Progress samples the counters.
type Metrics struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	fileSize  int64
	consumed  int64
	packets   int64
	truncated int64
	anomalies int64
	badSums   int64
	layers    map[string]int64
}

func NewMetrics() *Metrics {
	return &Metrics{layers: make(map[string]int64)}
}

// Start marks the beginning of the pass. Later calls are ignored.
func (m *Metrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() {
		m.start = time.Now()
	}
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
}

// SetFileSize records the size of the capture file, so progress can be
// reported as a fraction, and the bytes read before its first record.
func (m *Metrics) SetFileSize(size, preamble int64) {
	m.mu.Lock()
	m.fileSize = max(size, 0)
	m.consumed += max(preamble, 0)
	m.mu.Unlock()
}

// Read counts a record of size file bytes, header included. truncated is
// set when the record was captured shorter than it was sent.
func (m *Metrics) Read(size int64, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets++
	if size > 0 {
		m.consumed += size
	}
	if truncated {
		m.truncated++
	}
}

// Decoded counts the result of parsing one record: the protocols of its
// chain in order, the parse error it stopped on and the number of headers
// failing their checksum.
func (m *Metrics) Decoded(layers []string, err error, badChecksums int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range layers {
		m.layers[l]++
	}
	if err != nil {
		m.anomalies++
	}
	m.badSums += int64(max(badChecksums, 0))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MetricsSnapshot{
		FileSize:     m.fileSize,
		Bytes:        m.consumed,
		Packets:      m.packets,
		Truncated:    m.truncated,
		Anomalies:    m.anomalies,
		BadChecksums: m.badSums,
		Layers:       make(map[string]int64, len(m.layers)),
	}
	for k, v := range m.layers {
		s.Layers[k] = v
	}
	switch {
	case m.start.IsZero():
	case m.end.IsZero():
		s.Duration = time.Since(m.start)
	default:
		s.Duration = m.end.Sub(m.start)
	}
	return s
}

// MetricsSnapshot is a copy of the counters at one instant.
type MetricsSnapshot struct {
	Duration     time.Duration
	FileSize     int64
	Bytes        int64
	Packets      int64
	Truncated    int64
	Anomalies    int64
	BadChecksums int64
	Layers       map[string]int64
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

func (s MetricsSnapshot) PacketsPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Packets) / s.Duration.Seconds()
}

// Completion is the consumed fraction of the file, 0 when its size is unknown.
func (s MetricsSnapshot) Completion() float64 {
	if s.FileSize <= 0 || s.Bytes <= 0 {
		return 0
	}
	return min(float64(s.Bytes)/float64(s.FileSize), 1)
}

// LayerSummary lists the per-protocol header counts, most frequent first,
// as "IPv4=10 UDP=7".
func (s MetricsSnapshot) LayerSummary() string {
	names := make([]string, 0, len(s.Layers))
	for k := range s.Layers {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Layers[names[i]], s.Layers[names[j]]
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%d", k, s.Layers[k])
	}
	return strings.Join(parts, " ")
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatBytes renders b with a binary unit.
func FormatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v, u := float64(b), 0
	for v >= 1024 && u < len(byteUnits)-1 {
		v /= 1024
		u++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[u])
}

func progressLine(s MetricsSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d packets", s.Packets)
	if s.FileSize > 0 {
		fmt.Fprintf(&b, " [%s of %s, %.2f%%]", FormatBytes(s.Bytes), FormatBytes(s.FileSize), s.Completion()*100)
	} else {
		fmt.Fprintf(&b, " [%s]", FormatBytes(s.Bytes))
	}
	fmt.Fprintf(&b, " %.0f pkt/s", s.PacketsPerSecond())
	if n := s.Anomalies + s.BadChecksums; n > 0 {
		fmt.Fprintf(&b, " %d problems", n)
	}
	return b.String()
}

// Progress rewrites a single status line on w until Stop is called.
type Progress struct {
	w    io.Writer
	m    *Metrics
	done chan struct{}
	wg   sync.WaitGroup
	last int
}

// StartProgress samples m every interval, one second when interval is not
// positive. A nil writer or Metrics yields a Progress that prints nothing.
func StartProgress(w io.Writer, m *Metrics, interval time.Duration) *Progress {
	p := &Progress{w: w, m: m, done: make(chan struct{})}
	if w == nil || m == nil {
		close(p.done)
		return p
	}
	if interval <= 0 {
		interval = time.Second
	}
	p.wg.Add(1)
	go p.run(interval)
	return p
}

func (p *Progress) run(interval time.Duration) {
	defer p.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.print(progressLine(p.m.Snapshot()))
		case <-p.done:
			if p.last > 0 {
				p.print("")
				fmt.Fprintln(p.w)
			}
			return
		}
	}
}

// print overwrites the previous line, blanking any leftover characters.
func (p *Progress) print(line string) {
	fmt.Fprintf(p.w, "\r%-*s", p.last, line)
	p.last = len(line)
}

// Stop ends the updates and clears the status line. It is safe to call on a
// nil Progress.
func (p *Progress) Stop() {
	if p == nil || p.w == nil || p.m == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	close(p.done)
	p.wg.Wait()
}
