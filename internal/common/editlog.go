package common

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EditEntry records one field rewrite applied to a captured packet.
type EditEntry struct {
	Packet    int       `json:"packet"`
	Node      int       `json:"node"`
	Kind      string    `json:"kind"`
	Field     string    `json:"field"`
	Offset    int64     `json:"offset"`
	BeforeHex string    `json:"beforeHex"`
	AfterHex  string    `json:"afterHex"`
	Ts        time.Time `json:"ts"`
}

// BeforeBytes decodes the packet bytes present before the edit.
func (e EditEntry) BeforeBytes() ([]byte, error) {
	if strings.TrimSpace(e.BeforeHex) == "" {
		return nil, nil
	}
	return hex.DecodeString(e.BeforeHex)
}

// AfterBytes decodes the packet bytes written by the edit, including any
// lengths and checksums recomputed as a result.
func (e EditEntry) AfterBytes() ([]byte, error) {
	if strings.TrimSpace(e.AfterHex) == "" {
		return nil, nil
	}
	return hex.DecodeString(e.AfterHex)
}

// EditLog appends EditEntry values to a JSONL file.
type EditLog struct {
	path string
	mu   sync.Mutex
}

func NewEditLog(path string) *EditLog {
	return &EditLog{path: path}
}

func (l *EditLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entry as one JSON line, creating the file and its directory
// on first use.
func (l *EditLog) Append(entry EditEntry) error {
	if l == nil {
		return errors.New("nil edit log")
	}
	if entry.Field == "" {
		return errors.New("edit entry missing field")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadEditLog loads every entry from the JSONL file at path.
func ReadEditLog(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var entries []EditEntry
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry EditEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("%s:%d: decode edit entry: %w", path, line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
