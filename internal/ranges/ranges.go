// Package ranges parses and evaluates encode ranges: the frame id intervals
// that are encoded, every other frame being skip-counted.
package ranges

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

// ErrInvalidRange is returned for malformed range expressions.
var ErrInvalidRange = errors.New("invalid encode range")

// Unbounded is the Last() value of an empty list.
const Unbounded = math.MaxInt64

// Range is the half-open frame interval [Start, End). Offset is added to ids
// inside the range to produce the adjusted id used in cluster mode.
type Range struct {
	Start  int64 `json:"start"`
	End    int64 `json:"end"`
	Offset int64 `json:"offset,omitempty"`
}

// Len returns the number of frames in the range.
func (r Range) Len() int64 { return r.End - r.Start }

// Contains reports whether id lies inside the range.
func (r Range) Contains(id int64) bool { return id >= r.Start && id < r.End }

func (r Range) String() string {
	if r.Offset != 0 {
		return fmt.Sprintf("%d-%d:%d", r.Start, r.End, r.Offset)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// List is an ordered, non-overlapping set of ranges. An empty list selects
// every frame.
type List []Range

// Parse parses a comma separated list of ranges. Each item is
// "start-end[:offset]" where start and end are frame numbers or timecodes
// (HH:MM:SS or HH:MM:SS.FF) converted with fps. Timecode items require a
// valid fps.
func Parse(expr string, fps frame.Rational) (List, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var list List
	for _, item := range strings.Split(expr, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		r, err := parseItem(item, fps)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	for i := 1; i < len(list); i++ {
		if list[i].Start < list[i-1].End {
			return nil, fmt.Errorf("%w: %s overlaps %s", ErrInvalidRange, list[i], list[i-1])
		}
	}
	return list, nil
}

func parseItem(item string, fps frame.Rational) (Range, error) {
	startStr, rest, ok := strings.Cut(item, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q has no '-'", ErrInvalidRange, item)
	}

	endStr, offStr := rest, ""
	switch strings.Count(rest, ":") {
	case 1, 3:
		i := strings.LastIndex(rest, ":")
		endStr, offStr = rest[:i], rest[i+1:]
	}

	start, err := parseBound(startStr, fps)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start of %q: %v", ErrInvalidRange, item, err)
	}
	end, err := parseBound(endStr, fps)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end of %q: %v", ErrInvalidRange, item, err)
	}
	if end < start {
		return Range{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidRange, item)
	}

	r := Range{Start: start, End: end}
	if offStr != "" {
		r.Offset, err = strconv.ParseInt(strings.TrimSpace(offStr), 10, 64)
		if err != nil {
			return Range{}, fmt.Errorf("%w: offset of %q: %v", ErrInvalidRange, item, err)
		}
	}
	return r, nil
}

func parseBound(s string, fps frame.Rational) (int64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, fmt.Errorf("negative frame %d", n)
		}
		return n, nil
	}
	return parseTimecode(s, fps)
}

// parseTimecode converts HH:MM:SS[.FF] into a frame number. FF counts
// frames, not hundredths of a second.
func parseTimecode(s string, fps frame.Rational) (int64, error) {
	if !fps.Valid() {
		return 0, fmt.Errorf("timecode %q needs a frame rate", s)
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("timecode %q is not HH:MM:SS", s)
	}
	secPart, framePart, _ := strings.Cut(parts[2], ".")

	var fields [4]int64
	for i, p := range []string{parts[0], parts[1], secPart, framePart} {
		if p == "" && i == 3 {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("timecode %q: bad field %q", s, p)
		}
		fields[i] = v
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("timecode %q out of range", s)
	}

	seconds := fields[0]*3600 + fields[1]*60 + fields[2]
	return seconds*fps.Num/fps.Den + fields[3], nil
}

// Contains reports whether id is selected for encoding.
func (l List) Contains(id int64) bool {
	if len(l) == 0 {
		return true
	}
	_, ok := l.RangeFor(id)
	return ok
}

// RangeFor returns the range holding id.
func (l List) RangeFor(id int64) (Range, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].End > id })
	if i < len(l) && l[i].Contains(id) {
		return l[i], true
	}
	return Range{}, false
}

// First returns the first selected frame id.
func (l List) First() int64 {
	if len(l) == 0 {
		return 0
	}
	return l[0].Start
}

// Last returns the exclusive end of the last range, or Unbounded.
func (l List) Last() int64 {
	if len(l) == 0 {
		return Unbounded
	}
	return l[len(l)-1].End
}

// Adjust returns id shifted by the offset of its range.
func (l List) Adjust(id int64) int64 {
	if r, ok := l.RangeFor(id); ok {
		return id + r.Offset
	}
	return id
}

// Frames returns the number of selected frames, or -1 when unbounded.
func (l List) Frames() int64 {
	if len(l) == 0 {
		return -1
	}
	var n int64
	for _, r := range l {
		n += r.Len()
	}
	return n
}

func (l List) String() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
