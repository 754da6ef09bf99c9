package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

// SwitchState is the position of a Switch in its unit cycle.
type SwitchState int

// Switch states.
const (
	StateOpenSource SwitchState = iota
	StateImport
	StateCloseSource
	StateAdvance
	StateProbeCheck
	StateDone
)

func (s SwitchState) String() string {
	switch s {
	case StateOpenSource:
		return "open_source"
	case StateImport:
		return "import"
	case StateCloseSource:
		return "close_source"
	case StateAdvance:
		return "advance"
	case StateProbeCheck:
		return "probe_check"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Switch chains several physical units of one media kind into a single
// logical source. Every unit after the first must probe compatible with the
// first; otherwise ReadFrame fails with ErrProbeMismatch before any of its
// frames are read.
type Switch struct {
	spec   Spec
	units  []string
	idx    int
	cur    Source
	ref    Probe
	frames int64
	state  SwitchState
	logger *slog.Logger
}

// NewSwitch returns a source reading units in order. spec is the template
// used to build each unit; its Path is replaced by the unit path.
func NewSwitch(spec Spec, units []string) *Switch {
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Switch{
		spec:   spec,
		units:  units,
		logger: logger.With(slog.String("kind", spec.Kind.String())),
	}
}

// Open opens the first unit and records its probe as the reference.
func (s *Switch) Open() error {
	if len(s.units) == 0 {
		return fmt.Errorf("%s switch: no source units", s.spec.Kind)
	}
	s.idx = 0
	if err := s.openUnit(); err != nil {
		return err
	}
	s.ref = s.cur.Probe()
	s.state = StateImport
	return nil
}

func (s *Switch) openUnit() error {
	s.state = StateOpenSource
	spec := s.spec
	spec.Path = s.units[s.idx]
	src, err := New(spec)
	if err != nil {
		return err
	}
	if err := src.Open(); err != nil {
		return err
	}
	s.cur = src
	s.frames = 0
	s.logger.Debug("source unit opened",
		slog.Int("unit", s.idx),
		slog.String("path", spec.Path))
	return nil
}

// ReadFrame reads from the current unit. At the end of a unit it moves on
// and returns ErrUnitSwitch; after the last unit it returns io.EOF.
func (s *Switch) ReadFrame(buf []byte) (int, error) {
	if s.state == StateDone {
		return 0, io.EOF
	}
	if s.cur == nil {
		return 0, errors.New("source switch not open")
	}

	n, err := s.cur.ReadFrame(buf)
	if err == nil {
		s.frames++
		return n, nil
	}
	short := errors.Is(err, ErrShortFrame)
	if !short && !errors.Is(err, io.EOF) {
		return n, err
	}

	if s.frames == 0 {
		s.logger.Warn("source unit shorter than one frame, skipped",
			slog.Int("unit", s.idx),
			slog.String("path", s.units[s.idx]))
	} else if short {
		s.logger.Warn("source unit ends with a truncated frame",
			slog.Int("unit", s.idx),
			slog.Int64("frames", s.frames))
	}

	s.state = StateCloseSource
	if cerr := s.cur.Close(); cerr != nil {
		return 0, fmt.Errorf("closing unit %s: %w", s.units[s.idx], cerr)
	}
	s.cur = nil

	s.state = StateAdvance
	if s.idx+1 >= len(s.units) {
		s.state = StateDone
		return 0, io.EOF
	}
	s.idx++
	if err := s.openUnit(); err != nil {
		return 0, err
	}

	s.state = StateProbeCheck
	if err := s.ref.Compatible(s.cur.Probe()); err != nil {
		return 0, fmt.Errorf("unit %s: %w", s.units[s.idx], err)
	}
	s.state = StateImport
	return 0, ErrUnitSwitch
}

// Close closes the current unit.
func (s *Switch) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}

// Probe returns the reference probe of the first unit.
func (s *Switch) Probe() Probe { return s.ref }

// Kind returns the media kind of the units.
func (s *Switch) Kind() frame.Kind { return s.spec.Kind }

// FrameSize delegates to the current unit.
func (s *Switch) FrameSize(id int64) int {
	if s.cur == nil {
		return 0
	}
	return s.cur.FrameSize(id)
}

// Unit returns the index of the current unit.
func (s *Switch) Unit() int { return s.idx }

// State returns the current switch state.
func (s *Switch) State() SwitchState { return s.state }

// ExpandUnits resolves an input argument into unit paths. A directory yields
// its regular, non-hidden files in name order; a comma separated list is
// split; anything else is a single unit.
func ExpandUnits(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if strings.Contains(path, ",") {
		var units []string
		for _, p := range strings.Split(path, ",") {
			if p = strings.TrimSpace(p); p != "" {
				units = append(units, p)
			}
		}
		return units, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading source directory %s: %w", path, err)
	}
	var units []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		units = append(units, filepath.Join(path, e.Name()))
	}
	sort.Strings(units)
	if len(units) == 0 {
		return nil, fmt.Errorf("source directory %s has no files", path)
	}
	return units, nil
}

// Open builds and opens the source for path, using a Switch when path
// names more than one unit.
func Open(spec Spec) (Source, error) {
	units, err := ExpandUnits(spec.Path)
	if err != nil {
		return nil, err
	}

	var src Source
	if len(units) > 1 {
		src = NewSwitch(spec, units)
	} else {
		src, err = New(spec)
		if err != nil {
			return nil, err
		}
	}
	if err := src.Open(); err != nil {
		return nil, err
	}
	return src, nil
}

// ProbeFile opens path, returns its probe and closes it again.
func ProbeFile(path string, kind frame.Kind, fps frame.Rational) (Probe, error) {
	src, err := New(Spec{Kind: kind, Path: path, FrameRate: fps})
	if err != nil {
		return Probe{}, err
	}
	if err := src.Open(); err != nil {
		return Probe{}, err
	}
	defer src.Close()
	return src.Probe(), nil
}
