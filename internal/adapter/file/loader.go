// Package file loads pipe-delimited forecast rows from local files.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

const (
	maxLineSize = 4 << 20

	// pgzip decodes blocks of this size ahead of the scanner.
	gzipBlockSize = 1 << 20
	gzipBlocks    = 4
)

// Loader reads rows from every file matching a path or glob, in lexical order.
// Files ending in .gz or .zst are decompressed on the fly.
// It implements pipeline.BatchExtractor.
type Loader struct {
	pattern string
	paths   []string
	next    int
	cur     *openFile
	logger  *slog.Logger
}

type openFile struct {
	path    string
	rc      io.ReadCloser
	scanner *bufio.Scanner
	line    int64
}

// NewLoader resolves pattern to a list of files. It fails if nothing matches.
func NewLoader(pattern string, logger *slog.Logger) (*Loader, error) {
	paths, err := resolve(pattern)
	if err != nil {
		return nil, err
	}
	return &Loader{pattern: pattern, paths: paths, logger: logger}, nil
}

func resolve(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid input pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files match %q", pattern)
	}
	slices.Sort(paths)
	return paths, nil
}

// Rewind re-resolves the pattern and starts again from the first file.
func (l *Loader) Rewind() error {
	if err := l.closeCurrent(); err != nil {
		return err
	}
	paths, err := resolve(l.pattern)
	if err != nil {
		return err
	}
	l.paths = paths
	l.next = 0
	return nil
}

// Paths returns the resolved input files.
func (l *Loader) Paths() []string {
	return slices.Clone(l.paths)
}

// ExtractBatch returns up to batchSize non-blank rows. It returns io.EOF,
// possibly together with a final short batch, once every file is consumed.
// A read error never discards rows already collected: they are returned
// alone and the error resurfaces on the next call.
func (l *Loader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRow, error) {
	rows := make([]domain.RawRow, 0, batchSize)
	fail := func(err error) ([]domain.RawRow, error) {
		if len(rows) > 0 {
			return rows, nil
		}
		return nil, err
	}

	for len(rows) < batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.cur == nil {
			if l.next >= len(l.paths) {
				return rows, io.EOF
			}
			f, err := openInput(l.paths[l.next])
			if err != nil {
				return fail(err)
			}
			l.next++
			l.cur = f
			l.logger.Debug("reading input file", "source", f.path)
		}

		row, ok, err := l.cur.nextRow()
		if err != nil {
			return fail(err)
		}
		if !ok {
			path := l.cur.path
			if err := l.closeCurrent(); err != nil {
				// Every line was already read; the close failure loses nothing.
				l.logger.Warn("close input failed", "source", path, "error", err)
			}
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Close releases the file currently being read, if any.
func (l *Loader) Close() error {
	return l.closeCurrent()
}

func (l *Loader) closeCurrent() error {
	if l.cur == nil {
		return nil
	}
	err := l.cur.rc.Close()
	l.cur = nil
	if err != nil {
		return fmt.Errorf("close input: %w", err)
	}
	return nil
}

func openInput(path string) (*openFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	rc, err := decompress(path, f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &openFile{path: path, rc: rc, scanner: sc}, nil
}

func decompress(path string, f *os.File) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := pgzip.NewReaderN(f, gzipBlockSize, gzipBlocks)
		if err != nil {
			return nil, err
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		return &stackedCloser{Reader: dec, closers: []io.Closer{dec.IOReadCloser(), f}}, nil
	default:
		return f, nil
	}
}

// nextRow returns the next non-blank line. ok is false at end of file.
func (o *openFile) nextRow() (domain.RawRow, bool, error) {
	for o.scanner.Scan() {
		o.line++
		line := bytes.TrimRight(o.scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return domain.RawRow{
			Value:  bytes.Clone(line),
			Source: o.path,
			Offset: o.line,
		}, true, nil
	}
	if err := o.scanner.Err(); err != nil {
		return domain.RawRow{}, false, fmt.Errorf("read %s line %d: %w", o.path, o.line+1, err)
	}
	return domain.RawRow{}, false, nil
}

// stackedCloser closes a decoder and then the file beneath it.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
