// ABOUTME: Registry of trace formats and format detection
// ABOUTME: Open sniffs the head of a stream and returns the matching decoder

package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	// ErrNoFormat is returned when no registered format recognizes a trace
	ErrNoFormat = errors.New("no decoder found for trace format")
)

// sniffLen is how many leading bytes formats get to look at.
const sniffLen = 512

// Format is a pluggable trace encoding.
type Format interface {
	// Name identifies the format on the command line
	Name() string

	// Sniff reports whether head, the first bytes of a trace (possibly
	// fewer than sniffLen), looks like this format
	Sniff(head []byte) bool

	// NewDecoder starts decoding r from its first byte
	NewDecoder(r io.Reader, opts Options) (Decoder, error)

	// NewEncoder writes a trace in this format to w
	NewEncoder(w io.Writer) (Encoder, error)
}

// Options tune decoders.
type Options struct {
	// MaxErrors is the number of malformed records tolerated before
	// decoding fails; 0 means fail on the first one
	MaxErrors int

	// OnError is told about every skipped record
	OnError func(err error)

	// OnProgress is called every ProgressEvery events with the bytes and
	// events consumed so far, and once more at the end of the stream
	OnProgress    func(bytesRead, events int64)
	ProgressEvery int64
}

type formatRegistry struct {
	mu      sync.RWMutex
	formats []Format
}

var registry = &formatRegistry{}

// Register adds a format. Formats are tried in registration order.
func Register(f Format) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.formats = append(registry.formats, f)
}

// Lookup returns the format registered under name.
func Lookup(name string) (Format, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, f := range registry.formats {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoFormat, name)
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.formats))
	for _, f := range registry.formats {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names
}

// Open detects the format of r and returns a decoder positioned at the
// first event.
func Open(r io.Reader, opts Options) (Decoder, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("reading trace header: %w", err)
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, f := range registry.formats {
		if f.Sniff(head) {
			return f.NewDecoder(br, opts)
		}
	}
	return nil, ErrNoFormat
}
