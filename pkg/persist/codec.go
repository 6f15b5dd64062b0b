// Package persist writes small state files atomically and reads them back
// through a pluggable Codec.
package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	defaultIndent = "  "
	filePerm      = 0o644
)

// Codec serializes state to and from a stream.
type Codec interface {
	Encode(w io.Writer, state any) error
	Decode(r io.Reader, state any) error
}

// JSONCodec encodes state as JSON. An empty Indent produces compact output.
type JSONCodec struct {
	Indent string
}

// NewJSONCodec returns a codec that indents with two spaces.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode writes state as a single JSON document.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", c.Indent)

	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode reads one JSON document into state.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	if err := json.NewDecoder(r).Decode(state); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// SaveState writes state to path. The content is written to a temporary file
// in the same directory and renamed into place, so readers never observe a
// partially written file.
func SaveState(path string, codec Codec, state any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpName := tmp.Name()

	encodeErr := codec.Encode(tmp, state)
	if encodeErr == nil {
		encodeErr = tmp.Chmod(filePerm)
	}

	if encodeErr == nil {
		encodeErr = tmp.Sync()
	}

	closeErr := tmp.Close()

	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		if encodeErr != nil {
			return fmt.Errorf("encode state: %w", encodeErr)
		}

		return fmt.Errorf("close state file: %w", closeErr)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// LoadState decodes the file at path into state, which must be a pointer.
func LoadState(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}
