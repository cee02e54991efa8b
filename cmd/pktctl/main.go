package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"example.com/pktchain/internal/capture"
	"example.com/pktchain/internal/common"
	"example.com/pktchain/internal/packet"
	"example.com/pktchain/internal/randpkt"
	"example.com/pktchain/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"

	stdout io.Writer = os.Stdout
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "hexdump":
		hexdumpCmd(os.Args[2:])
	case "random":
		randomCmd(os.Args[2:])
	case "set":
		setCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "verify":
		verifyCmd(os.Args[2:])
	case "version":
		fmt.Fprintf(stdout, "pktctl %s (built %s)\n", version, buildDate)
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`pktctl %s (built %s) <command> [options]

Commands:
  decode   --in <capture.pcap> [--verbose] [--hex] [--metrics] [--progress]
  hexdump  --hex <bytes> [--link <ethernet|raw|ipv4|ipv6>]
  random   --out <capture.pcap> [--count N] [--seed N] [--stack <name,...>] [--link <type>]
  set      --hex <bytes> --field <layer.name=value,...> [--link <type>] [--keep-derived|--incremental] [--edit-log <edits.jsonl>]
  report   --in <capture.pcap> [--json <report.json>] [--pdf <report.pdf>] [--metrics]
  verify   --in <capture.pcap>

Every command accepts --config <pktctl.yaml>.
`, version, buildDate)
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "configuration file (default "+defaultConfigPath+" when present)")
}

func mustConfig(path string) config {
	cfg, err := loadConfig(path)
	if err != nil {
		exitf("load config: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		exitf("setup logging: %v", err)
	}
	return cfg
}

func linkFlag(fs *flag.FlagSet) *string {
	return fs.String("link", "", "link type: ethernet, raw, ipv4 or ipv6 (default from config)")
}

func resolveLink(flagValue string, cfg config) packet.LinkType {
	if flagValue == "" {
		return cfg.link
	}
	link, err := packet.ParseLinkType(strings.ToLower(flagValue))
	if err != nil {
		exitf("%v", err)
	}
	return link
}

// eachRecord parses every record of rd, updates m and hands the result to fn.
func eachRecord(rd *capture.Reader, m *common.Metrics, fn func(capture.Record, *packet.Chain)) error {
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		c := rec.Chain()
		if err := c.Err(); err != nil {
			common.Logf("packet %d: %v", rec.Index, err)
		}
		layers := make([]string, 0, c.Len())
		bad := 0
		for _, n := range c.Nodes() {
			layers = append(layers, n.Kind().String())
			if !rec.Truncated() && !n.ValidChecksum() {
				bad++
			}
		}
		m.Decoded(layers, c.Err(), bad)
		fn(rec, c)
	}
}

func openCapture(path string, m *common.Metrics) *capture.Reader {
	if path == "" {
		exitf("required: --in")
	}
	rd, err := capture.NewReader(path)
	if err != nil {
		exitf("open capture: %v", err)
	}
	rd.SetMetrics(m)
	return rd
}

func printMetrics(m *common.Metrics) {
	snap := m.Snapshot()
	fmt.Fprintf(stdout, "Metrics: duration=%s packets=%d truncated=%d anomalies=%d bad-checksums=%d processed=%s throughput=%.2f MB/s\n",
		snap.Duration.Round(10*time.Millisecond),
		snap.Packets,
		snap.Truncated,
		snap.Anomalies,
		snap.BadChecksums,
		common.FormatBytes(snap.Bytes),
		snap.ThroughputBytesPerSecond()/1_000_000,
	)
	if layers := snap.LayerSummary(); layers != "" {
		fmt.Fprintf(stdout, "Layers: %s\n", layers)
	}
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	cfgPath := configFlag(fs)
	in := fs.String("in", "", "input pcap file")
	verbose := fs.Bool("verbose", false, "print every field of every layer")
	hexFlag := fs.Bool("hex", false, "append a hex dump of each packet")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	fs.Parse(args)
	mustConfig(*cfgPath)

	metrics := common.NewMetrics()
	rd := openCapture(*in, metrics)
	defer rd.Close()

	metrics.Start()
	var progress *common.Progress
	if *progressFlag {
		progress = common.StartProgress(os.Stderr, metrics, 500*time.Millisecond)
	}
	err := eachRecord(rd, metrics, func(rec capture.Record, c *packet.Chain) {
		ts := rec.Timestamp.UTC().Format(time.RFC3339Nano)
		if *verbose {
			fmt.Fprintf(stdout, "#%d %s\n%s", rec.Index, ts, c.Text(packet.Verbose))
		} else {
			fmt.Fprintf(stdout, "#%d %s %s\n", rec.Index, ts, c.Text(packet.Normal))
		}
		if *hexFlag {
			fmt.Fprintln(stdout, c.Hexdump())
		}
	})
	progress.Stop()
	metrics.Stop()
	if err != nil {
		exitf("decode: %v", err)
	}
	if *metricsFlag {
		printMetrics(metrics)
	}
}

func hexdumpCmd(args []string) {
	fs := flag.NewFlagSet("hexdump", flag.ExitOnError)
	cfgPath := configFlag(fs)
	linkName := linkFlag(fs)
	hexIn := fs.String("hex", "", "packet bytes in hex")
	fs.Parse(args)
	cfg := mustConfig(*cfgPath)

	if *hexIn == "" {
		exitf("required: --hex")
	}
	frame, err := decodeHex(*hexIn)
	if err != nil {
		exitf("%v", err)
	}
	c := packet.Parse(resolveLink(*linkName, cfg), frame)
	fmt.Fprint(stdout, c.Text(packet.Verbose))
	fmt.Fprintln(stdout, c.Hexdump())
	fmt.Fprintf(stdout, "checksums valid: %v\n", c.ChecksumsValid())
}

// stacksForLink keeps the stacks whose chains use link.
func stacksForLink(stacks []randpkt.Stack, link packet.LinkType) []randpkt.Stack {
	r := rand.New(rand.NewPCG(0, 0))
	var out []randpkt.Stack
	for _, s := range stacks {
		c, err := randpkt.New(r, s)
		if err == nil && c.Link() == link {
			out = append(out, s)
		}
	}
	return out
}

func randomCmd(args []string) {
	fs := flag.NewFlagSet("random", flag.ExitOnError)
	cfgPath := configFlag(fs)
	linkName := linkFlag(fs)
	out := fs.String("out", "", "output pcap file")
	count := fs.Int("count", 0, "number of packets (default from config)")
	seed := fs.Uint64("seed", 0, "random seed (default from config)")
	stackList := fs.String("stack", "", "comma-separated stacks, e.g. eth-ipv4-tcp,eth-ipv6-udp")
	fs.Parse(args)
	cfg := mustConfig(*cfgPath)

	if *out == "" {
		exitf("required: --out")
	}
	if *count <= 0 {
		*count = cfg.Random.Count
	}
	if *seed == 0 {
		*seed = cfg.Random.Seed
	}
	stacks := cfg.stacks
	if *stackList != "" {
		var err error
		if stacks, err = parseStacks(strings.Split(*stackList, ",")); err != nil {
			exitf("%v", err)
		}
	}
	link := resolveLink(*linkName, cfg)
	stacks = stacksForLink(stacks, link)
	if len(stacks) == 0 {
		exitf("no selected stack produces %v frames", link)
	}

	w, err := capture.Create(*out, link)
	if err != nil {
		exitf("create capture: %v", err)
	}
	r := rand.New(rand.NewPCG(*seed, *seed))
	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < *count; i++ {
		c, err := randpkt.New(r, stacks[r.IntN(len(stacks))])
		if err != nil {
			exitf("random packet %d: %v", i, err)
		}
		if err := w.WriteChain(base.Add(time.Duration(i)*time.Millisecond), c); err != nil {
			exitf("write capture: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		exitf("close capture: %v", err)
	}
	fmt.Fprintf(stdout, "Wrote %d packets to %s\n", w.Count(), *out)
}

func setCmd(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	cfgPath := configFlag(fs)
	linkName := linkFlag(fs)
	hexIn := fs.String("hex", "", "packet bytes in hex")
	fields := fs.String("field", "", "comma-separated layer.name=value edits, e.g. ipv4.ttl=1")
	keepDerived := fs.Bool("keep-derived", false, "do not recompute lengths and checksums")
	incremental := fs.Bool("incremental", false, "adjust only the checksums covering the edited fields")
	editLog := fs.String("edit-log", "", "append applied edits to this JSONL file")
	fs.Parse(args)
	cfg := mustConfig(*cfgPath)

	if *hexIn == "" || *fields == "" {
		exitf("required: --hex, --field")
	}
	frame, err := decodeHex(*hexIn)
	if err != nil {
		exitf("%v", err)
	}
	edits, err := parseFieldEdits(*fields)
	if err != nil {
		exitf("%v", err)
	}
	mode := fixupRecompute
	switch {
	case *keepDerived && *incremental:
		exitf("--keep-derived and --incremental are exclusive")
	case *keepDerived:
		mode = fixupNone
	case *incremental:
		mode = fixupIncremental
	}
	res, err := editFrame(resolveLink(*linkName, cfg), frame, edits, mode)
	if err != nil {
		exitf("set: %v", err)
	}
	if *editLog != "" {
		log := common.NewEditLog(*editLog)
		for _, e := range res.entries {
			if err := log.Append(e); err != nil {
				exitf("edit log: %v", err)
			}
		}
	}
	fmt.Fprintln(stdout, hex.EncodeToString(res.chain.Bytes()))
	fmt.Fprintln(stdout, res.chain.String())
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	cfgPath := configFlag(fs)
	in := fs.String("in", "", "input pcap file")
	jsonPath := fs.String("json", "", "output report JSON (default <in>.report.json)")
	pdfPath := fs.String("pdf", "", "output report PDF")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	fs.Parse(args)
	cfg := mustConfig(*cfgPath)

	if *in == "" {
		exitf("required: --in")
	}
	if *jsonPath == "" {
		*jsonPath = *in + ".report.json"
	}
	if *pdfPath == "" && cfg.Report.PDF {
		*pdfPath = strings.TrimSuffix(*jsonPath, ".json") + ".pdf"
	}
	sum, size, err := common.Sha256OfFile(*in)
	if err != nil {
		exitf("hash input: %v", err)
	}

	metrics := common.NewMetrics()
	rd := openCapture(*in, metrics)
	defer rd.Close()
	b := report.NewBuilder(*in, sum, size, rd.Link())
	metrics.Start()
	err = eachRecord(rd, metrics, b.Add)
	metrics.Stop()
	if err != nil {
		exitf("decode: %v", err)
	}

	rep := b.Report()
	if err := report.SaveJSON(rep, *jsonPath); err != nil {
		exitf("write report: %v", err)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(rep, *pdfPath); err != nil {
			exitf("write pdf: %v", err)
		}
		fmt.Fprintln(stdout, "Wrote PDF:", *pdfPath)
	}
	s := rep.Summary
	fmt.Fprintf(stdout, "PASS=%v, packets=%d, truncated=%d, anomalies=%d, bad-checksums=%d\n",
		s.Pass, s.Packets, s.Truncated, s.Anomalies, s.BadChecksums)
	if *metricsFlag || cfg.Report.Metrics {
		printMetrics(metrics)
	}
}

// verifyCapture prints every record that fails to decode cleanly and
// reports whether none did.
func verifyCapture(path string, w io.Writer) (bool, error) {
	metrics := common.NewMetrics()
	rd, err := capture.NewReader(path)
	if err != nil {
		return false, err
	}
	defer rd.Close()
	rd.SetMetrics(metrics)
	err = eachRecord(rd, metrics, func(rec capture.Record, c *packet.Chain) {
		var problems []string
		if err := c.Err(); err != nil {
			problems = append(problems, err.Error())
		}
		if !rec.Truncated() {
			for _, n := range c.Nodes() {
				if !n.ValidChecksum() {
					problems = append(problems, n.Kind().String()+" checksum")
				}
			}
		}
		if len(problems) > 0 {
			fmt.Fprintf(w, "packet %d: %s: %v\n", rec.Index, strings.Join(problems, ", "), c)
		}
	})
	if err != nil {
		return false, err
	}
	snap := metrics.Snapshot()
	fmt.Fprintf(w, "%d packets, %d truncated, %d anomalies, %d bad checksums\n",
		snap.Packets, snap.Truncated, snap.Anomalies, snap.BadChecksums)
	return snap.Anomalies == 0 && snap.BadChecksums == 0, nil
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := configFlag(fs)
	in := fs.String("in", "", "input pcap file")
	fs.Parse(args)
	mustConfig(*cfgPath)

	if *in == "" {
		exitf("required: --in")
	}
	ok, err := verifyCapture(*in, stdout)
	if err != nil {
		exitf("verify: %v", err)
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Fprintln(stdout, "OK")
}
