package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"example.com/pktchain/internal/common"
	"example.com/pktchain/internal/packet"
	"example.com/pktchain/internal/randpkt"
)

const defaultConfigPath = "pktctl.yaml"

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type randomConfig struct {
	Count  int      `yaml:"count"`
	Seed   uint64   `yaml:"seed"`
	Stacks []string `yaml:"stacks"`
}

type reportConfig struct {
	// PDF writes a PDF next to the JSON report when --pdf is not given.
	PDF     bool `yaml:"pdf"`
	Metrics bool `yaml:"metrics"`
}

type config struct {
	Link   string       `yaml:"link"`
	Random randomConfig `yaml:"random"`
	Report reportConfig `yaml:"report"`
	Logs   logConfig    `yaml:"logs"`

	link   packet.LinkType
	stacks []randpkt.Stack
}

// loadConfig reads path and fills in defaults. A missing file at the default
// path yields the defaults alone.
func loadConfig(path string) (config, error) {
	var cfg config
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case explicit || !os.IsNotExist(err):
		return cfg, err
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}

	if cfg.Link == "" {
		cfg.Link = "ethernet"
	}
	cfg.link, err = packet.ParseLinkType(strings.ToLower(cfg.Link))
	if err != nil {
		return cfg, err
	}
	if cfg.Random.Count <= 0 {
		cfg.Random.Count = 100
	}
	if cfg.Random.Seed == 0 {
		cfg.Random.Seed = 1
	}
	cfg.stacks, err = parseStacks(cfg.Random.Stacks)
	if err != nil {
		return cfg, err
	}
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

// parseStacks resolves stack names. No names selects every stack.
func parseStacks(names []string) ([]randpkt.Stack, error) {
	if len(names) == 0 {
		return randpkt.Stacks(), nil
	}
	out := make([]randpkt.Stack, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, err := randpkt.ParseStack(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// setupLogging mirrors the package logger into a rotating file when a log
// directory is configured.
func setupLogging(cfg config) error {
	if cfg.Logs.Directory == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "pktctl.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	common.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}
