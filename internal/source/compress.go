package source

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

var compressedExts = []string{".gz", ".bz2", ".xz", ".br"}

type compressedFile struct {
	io.Reader
	closers []io.Closer
}

func (c *compressedFile) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openInput opens path and transparently decompresses gzip, bzip2 and xz
// data detected by magic bytes. Brotli has no magic and is selected by the
// .br extension.
func openInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	rc, err := decompress(f, strings.HasSuffix(strings.ToLower(path), ".br"))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return rc, nil
}

func decompress(f io.ReadCloser, isBrotli bool) (io.ReadCloser, error) {
	out := &compressedFile{closers: []io.Closer{f}}

	if isBrotli {
		out.Reader = bufio.NewReader(brotli.NewReader(f))
		return out, nil
	}

	br := bufio.NewReaderSize(f, 64*1024)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		out.closers = append(out.closers, gzr)
		out.Reader = bufio.NewReader(gzr)

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		bzr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		out.closers = append(out.closers, bzr)
		out.Reader = bufio.NewReader(bzr)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		out.Reader = bufio.NewReader(xzr)

	default:
		out.Reader = br
	}
	return out, nil
}
