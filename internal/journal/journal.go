// Package journal records a per-run, append-only JSONL log of what the
// collector fetched, skipped or failed on.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the journal file inside a run directory.
const FileName = "journal.jsonl"

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryCollected EntryType = "collected"
	EntryEmpty     EntryType = "empty"
	EntryExported  EntryType = "exported"
	EntryTruncated EntryType = "truncated"
	EntrySkipped   EntryType = "skipped"
	EntryFailed    EntryType = "failed"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	Account   string          `json:"account,omitempty"`
	Scope     string          `json:"scope"`
	Item      string          `json:"item,omitempty"`
	Count     int             `json:"count,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Recorder accepts journal entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(e Entry) error
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) error { return nil }

// Journal appends entries to a JSONL file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	path     string
}

// Open creates or appends to the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Record stamps and appends an entry.
func (j *Journal) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	e.Sequence = j.sequence
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	// Flush so a crashed run still leaves a readable journal
	return j.writer.Flush()
}

// Failure builds a failed entry for err.
func Failure(account, scope, item string, err error) Entry {
	return Entry{Type: EntryFailed, Account: account, Scope: scope, Item: item, Error: err.Error()}
}

// Reader provides journal replay
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- path is a journal written by this tool
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	return &Reader{scanner: scanner, file: file}, nil
}

// Next reads the next entry; io.EOF at the end.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry in the journal at path.
func Replay(path string, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handler(entry); err != nil {
			return err
		}
	}
}

// Counts tallies entries by type.
func Counts(path string) (map[EntryType]int, error) {
	counts := make(map[EntryType]int)
	err := Replay(path, func(e *Entry) error {
		counts[e.Type]++
		return nil
	})
	return counts, err
}
