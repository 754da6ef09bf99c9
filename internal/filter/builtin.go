package filter

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

func init() {
	Register("null", func(map[string]string) (Filter, error) { return nullFilter{}, nil })
	Register("skip", func(opts map[string]string) (Filter, error) {
		every, offset, err := periodOptions(opts)
		if err != nil {
			return nil, err
		}
		return &FlagEvery{name: "skip", flag: frame.Skipped, Every: every, Offset: offset}, nil
	})
	Register("clone", func(opts map[string]string) (Filter, error) {
		every, offset, err := periodOptions(opts)
		if err != nil {
			return nil, err
		}
		return &FlagEvery{name: "clone", flag: frame.Cloned, Every: every, Offset: offset}, nil
	})
}

type nullFilter struct{}

func (nullFilter) Name() string { return "null" }

func (nullFilter) Process(*frame.Frame) error { return nil }

// FlagEvery sets a flag on every Every-th frame starting at Offset.
type FlagEvery struct {
	name   string
	flag   frame.Flags
	Every  int64
	Offset int64
}

// NewSkipEvery marks every n-th frame from offset as skipped.
func NewSkipEvery(n, offset int64) *FlagEvery {
	return &FlagEvery{name: "skip", flag: frame.Skipped, Every: n, Offset: offset}
}

// NewCloneEvery marks every n-th frame from offset as cloned.
func NewCloneEvery(n, offset int64) *FlagEvery {
	return &FlagEvery{name: "clone", flag: frame.Cloned, Every: n, Offset: offset}
}

// Name returns the filter name.
func (f *FlagEvery) Name() string { return f.name }

// Process sets the flag when the frame id matches the period.
func (f *FlagEvery) Process(fr *frame.Frame) error {
	if fr.Has(frame.EndOfStream) || fr.ID < f.Offset {
		return nil
	}
	if (fr.ID-f.Offset)%f.Every == 0 {
		fr.Set(f.flag)
	}
	return nil
}

func periodOptions(opts map[string]string) (every, offset int64, err error) {
	every = 1
	if v, ok := opts["every"]; ok {
		if every, err = strconv.ParseInt(v, 10, 64); err != nil || every < 1 {
			return 0, 0, fmt.Errorf("option every must be a positive integer, got %q", v)
		}
	}
	if v, ok := opts["offset"]; ok {
		if offset, err = strconv.ParseInt(v, 10, 64); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("option offset must be a non-negative integer, got %q", v)
		}
	}
	return every, offset, nil
}
