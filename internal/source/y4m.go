package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jmylchreest/reelpipe/internal/frame"
)

const y4mMagic = "YUV4MPEG2"

// Y4M reads YUV4MPEG2 streams.
type Y4M struct {
	path      string
	rc        io.ReadCloser
	r         *bufio.Reader
	probe     Probe
	frameSize int
}

// NewY4M returns an unopened YUV4MPEG2 source.
func NewY4M(path string) *Y4M {
	return &Y4M{path: path}
}

// Open reads the stream header.
func (y *Y4M) Open() error {
	rc, err := openInput(y.path)
	if err != nil {
		return err
	}
	y.rc = rc
	y.r = bufio.NewReader(rc)

	line, err := y.r.ReadString('\n')
	if err != nil {
		_ = rc.Close()
		return fmt.Errorf("reading y4m header of %s: %w", y.path, err)
	}
	probe, err := parseY4MHeader(strings.TrimRight(line, "\n"))
	if err != nil {
		_ = rc.Close()
		return fmt.Errorf("%s: %w", y.path, err)
	}
	y.probe = probe
	y.frameSize = VideoFrameSize(probe.Width, probe.Height, probe.Colorspace)
	return nil
}

func parseY4MHeader(line string) (Probe, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != y4mMagic {
		return Probe{}, errors.New("not a YUV4MPEG2 stream")
	}

	p := Probe{Colorspace: ColorspaceYUV420, Aspect: frame.Rational{Num: 1, Den: 1}}
	for _, f := range fields[1:] {
		tag, val := f[0], f[1:]
		switch tag {
		case 'W':
			p.Width, _ = strconv.Atoi(val)
		case 'H':
			p.Height, _ = strconv.Atoi(val)
		case 'F':
			p.FrameRate = parseRatio(val)
		case 'A':
			if a := parseRatio(val); a.Valid() {
				p.Aspect = a
			}
		case 'C':
			p.Colorspace = y4mColorspace(val)
		}
	}
	if p.Width <= 0 || p.Height <= 0 {
		return Probe{}, fmt.Errorf("y4m header missing geometry: %q", line)
	}
	if !p.FrameRate.Valid() {
		return Probe{}, fmt.Errorf("y4m header missing frame rate: %q", line)
	}
	p.FrameRateCode = FrameRateCode(p.FrameRate)
	return p, nil
}

func y4mColorspace(c string) string {
	switch {
	case strings.HasPrefix(c, "422"):
		return ColorspaceYUV422
	case strings.HasPrefix(c, "444"):
		return ColorspaceYUV444
	case c == "mono":
		return ColorspaceGray
	default:
		return ColorspaceYUV420
	}
}

func parseRatio(s string) frame.Rational {
	num, den, ok := strings.Cut(s, ":")
	if !ok {
		return frame.Rational{}
	}
	n, err1 := strconv.ParseInt(num, 10, 64)
	d, err2 := strconv.ParseInt(den, 10, 64)
	if err1 != nil || err2 != nil {
		return frame.Rational{}
	}
	return frame.Rational{Num: n, Den: d}
}

// ReadFrame reads one FRAME record into buf.
func (y *Y4M) ReadFrame(buf []byte) (int, error) {
	if len(buf) < y.frameSize {
		return 0, fmt.Errorf("y4m buffer too small: %d < %d", len(buf), y.frameSize)
	}

	line, err := y.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return 0, io.EOF
			}
			return 0, ErrShortFrame
		}
		return 0, err
	}
	if !strings.HasPrefix(line, "FRAME") {
		return 0, fmt.Errorf("y4m: expected FRAME marker, got %q", strings.TrimSpace(line))
	}

	n, err := io.ReadFull(y.r, buf[:y.frameSize])
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, ErrShortFrame
	case err != nil:
		return n, err
	}
	return n, nil
}

// Close closes the input.
func (y *Y4M) Close() error {
	if y.rc == nil {
		return nil
	}
	err := y.rc.Close()
	y.rc = nil
	return err
}

// Probe returns the parsed stream header.
func (y *Y4M) Probe() Probe { return y.probe }

// Kind returns frame.Video.
func (y *Y4M) Kind() frame.Kind { return frame.Video }

// FrameSize returns the picture size; every y4m frame has the same size.
func (y *Y4M) FrameSize(int64) int { return y.frameSize }

// WriteY4MHeader writes a stream header for p.
func WriteY4MHeader(w io.Writer, p Probe) error {
	cs := "420jpeg"
	switch p.Colorspace {
	case ColorspaceYUV422:
		cs = "422"
	case ColorspaceYUV444:
		cs = "444"
	case ColorspaceGray:
		cs = "mono"
	}
	aspect := p.Aspect
	if !aspect.Valid() {
		aspect = frame.Rational{Num: 1, Den: 1}
	}
	_, err := fmt.Fprintf(w, "%s W%d H%d F%d:%d Ip A%d:%d C%s\n", y4mMagic,
		p.Width, p.Height, p.FrameRate.Num, p.FrameRate.Den, aspect.Num, aspect.Den, cs)
	return err
}
