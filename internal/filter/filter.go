// Package filter provides the filter invocation points of the pipeline: the
// pre stage run by the import loops or frame workers, and the post stage run
// by the encoder buffer.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

// ErrUnknownFilter is returned when no filter is registered under a name.
var ErrUnknownFilter = errors.New("unknown filter")

// Stage is the point in the pipeline where a filter runs.
type Stage int

const (
	// Pre filters run after a frame is read, before it is queued for encoding.
	Pre Stage = iota
	// Post filters run when the encode side takes the frame.
	Post
)

func (s Stage) String() string {
	if s == Post {
		return "post"
	}
	return "pre"
}

// ParseStage parses "pre" or "post".
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(s) {
	case "", "pre":
		return Pre, nil
	case "post":
		return Post, nil
	default:
		return Pre, fmt.Errorf("invalid filter stage %q", s)
	}
}

// Filter transforms or flags a frame in place. Implementations must be safe
// for concurrent use; frame workers call Process from several goroutines.
type Filter interface {
	Name() string
	Process(f *frame.Frame) error
}

// Constructor builds a filter from its options.
type Constructor func(options map[string]string) (Filter, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register makes a filter available by name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = ctor
}

// Names lists the registered filters.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Spec configures one filter instance.
type Spec struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Kind    string            `mapstructure:"kind" yaml:"kind"`
	Stage   string            `mapstructure:"stage" yaml:"stage"`
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty"`
}

type key struct {
	stage Stage
	kind  frame.Kind
}

// Chain holds the configured filters per stage and media kind.
type Chain struct {
	filters map[key][]Filter
}

// NewChain builds a chain from specs.
func NewChain(specs []Spec) (*Chain, error) {
	c := &Chain{filters: make(map[key][]Filter)}
	for i, s := range specs {
		kind, ok := frame.ParseKind(s.Kind)
		if !ok {
			return nil, fmt.Errorf("filter %d (%s): invalid kind %q", i, s.Name, s.Kind)
		}
		stage, err := ParseStage(s.Stage)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", i, s.Name, err)
		}

		registryMu.RLock()
		ctor, ok := constructors[s.Name]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, s.Name)
		}
		f, err := ctor(s.Options)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", i, s.Name, err)
		}
		c.Add(stage, kind, f)
	}
	return c, nil
}

// Add appends f to the filters of stage and kind.
func (c *Chain) Add(stage Stage, kind frame.Kind, f Filter) {
	if c.filters == nil {
		c.filters = make(map[key][]Filter)
	}
	k := key{stage, kind}
	c.filters[k] = append(c.filters[k], f)
}

// Has reports whether any filter is configured for stage and kind.
func (c *Chain) Has(stage Stage, kind frame.Kind) bool {
	if c == nil {
		return false
	}
	return len(c.filters[key{stage, kind}]) > 0
}

// Apply runs the filters of stage on f in configuration order.
// A nil chain is a no-op.
func (c *Chain) Apply(stage Stage, f *frame.Frame) error {
	if c == nil {
		return nil
	}
	for _, flt := range c.filters[key{stage, f.Kind}] {
		if err := flt.Process(f); err != nil {
			return fmt.Errorf("%s filter %s on %s frame %d: %w", stage, flt.Name(), f.Kind, f.ID, err)
		}
	}
	return nil
}
