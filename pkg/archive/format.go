// Package archive expands compressed bundles of table chunks into flat
// per-table files.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnsupportedArchive is returned for file names with no known archive extension.
var ErrUnsupportedArchive = errors.New("unsupported archive format")

// Format identifies an archive container and its compression.
type Format int

// Supported formats.
const (
	FormatZip Format = iota
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarLZ4
)

var formatNames = map[Format]string{
	FormatZip:     "zip",
	FormatTar:     "tar",
	FormatTarGzip: "tar.gz",
	FormatTarZstd: "tar.zst",
	FormatTarLZ4:  "tar.lz4",
}

// String returns the canonical extension of the format.
func (f Format) String() string {
	name, ok := formatNames[f]
	if !ok {
		return fmt.Sprintf("Format(%d)", int(f))
	}

	return name
}

// suffixes are matched in order; longer suffixes come first.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGzip},
	{".tgz", FormatTarGzip},
	{".tar.zst", FormatTarZstd},
	{".tzst", FormatTarZstd},
	{".tar.lz4", FormatTarLZ4},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// DetectFormat infers the archive format from a file name.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)

	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnsupportedArchive, name)
}

// EntryFunc is called for every regular file entry of an archive, in the
// archive's listing order.
type EntryFunc func(name string, body io.Reader) error

// Walk calls fn for every regular file in the archive at path.
func Walk(ctx context.Context, path string, fn EntryFunc) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}

	if format == FormatZip {
		return walkZip(ctx, path, fn)
	}

	return walkTar(ctx, path, format, fn)
}

func walkZip(ctx context.Context, path string, fn EntryFunc) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", path, err)
	}
	defer zr.Close()

	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	for _, entry := range zr.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if entry.FileInfo().IsDir() {
			continue
		}

		err = visitZipEntry(entry, fn)
		if err != nil {
			return fmt.Errorf("zip %s: %w", path, err)
		}
	}

	return nil
}

func visitZipEntry(entry *zip.File, fn EntryFunc) error {
	body, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer body.Close()

	return fn(entry.Name, body)
}

func walkTar(ctx context.Context, path string, format Format, fn EntryFunc) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tar %s: %w", path, err)
	}
	defer file.Close()

	stream, err := decompress(file, format)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", path, err)
	}
	defer stream.Close()

	tr := tar.NewReader(stream)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return fmt.Errorf("read tar %s: %w", path, nextErr)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		err = fn(hdr.Name, tr)
		if err != nil {
			return fmt.Errorf("tar %s: %w", path, err)
		}
	}
}

func decompress(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatTar:
		return io.NopCloser(r), nil
	case FormatTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}

		return gz, nil
	case FormatTarZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

		return dec.IOReadCloser(), nil
	case FormatTarLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case FormatZip:
	}

	return nil, fmt.Errorf("%w: %s is not a tar stream", ErrUnsupportedArchive, format)
}
