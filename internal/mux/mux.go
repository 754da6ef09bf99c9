// Package mux defines the multiplexer contract and the built-in raw, null
// and MPEG-TS multiplexers.
package mux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/codec"
)

var (
	// ErrUnknownMuxer is returned by New for an unregistered name.
	ErrUnknownMuxer = errors.New("unknown multiplexer")

	// ErrNotOpen is returned when writing before Open or after Close.
	ErrNotOpen = errors.New("multiplexer output not open")
)

// Output names the files a multiplexer writes.
type Output struct {
	// Path is the primary output. "-" is stdout; "" and "/dev/null" discard.
	Path string
	// AuxPath is a separate audio output. Empty means audio shares Path.
	AuxPath string
}

// IsNull reports whether path discards everything written to it.
func IsNull(path string) bool {
	return path == "" || path == os.DevNull
}

// Multiplexer combines encoded units into an output.
type Multiplexer interface {
	Name() string
	Configure(opts codec.Options) error
	Open(out Output) error
	// Multiplex writes whichever packets are non-empty and returns the
	// number of bytes written.
	Multiplex(video, audio *codec.Packet) (int, error)
	// Close flushes and closes the current output. The multiplexer may be
	// opened again.
	Close() error
	Stop() error
}

// Constructor builds an unconfigured multiplexer.
type Constructor func() Multiplexer

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

func init() {
	Register("raw", func() Multiplexer { return &Raw{} })
	Register("null", func() Multiplexer { return &Null{} })
	Register("mpegts", func() Multiplexer { return &TS{} })
}

// Register makes a multiplexer available by name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = ctor
}

// New builds the multiplexer registered as name.
func New(name string) (Multiplexer, error) {
	registryMu.RLock()
	ctor, ok := constructors[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMuxer, name)
	}
	return ctor(), nil
}

// Names lists the registered multiplexers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// sink is an opened output file.
type sink struct {
	*countingWriter
	closer io.Closer
}

// openSink opens path for writing.
func openSink(path string) (*sink, error) {
	switch {
	case IsNull(path):
		return &sink{countingWriter: &countingWriter{w: io.Discard}}, nil
	case path == "-":
		return &sink{countingWriter: &countingWriter{w: os.Stdout}}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}
	return &sink{countingWriter: &countingWriter{w: f}, closer: f}, nil
}

func (s *sink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
