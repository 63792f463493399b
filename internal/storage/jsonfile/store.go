// Package jsonfile implements the record store as one JSON document on disk.
//
// Every append reads the whole file, mutates the document in memory and
// rewrites the whole file. The rewrite goes through a temp file and a rename
// so readers never observe a half-written document. The store does not lock;
// it relies on a single writer.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

// DefaultPath is where the document lives unless configured otherwise.
var DefaultPath = filepath.Join("storage", "data.json")

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is a whole-file JSON record store.
type Store struct {
	path string
}

// New creates a store backed by the file at path. Nothing is touched on disk
// until the first Load or Append.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the whole document. A missing file is an empty document.
func (s *Store) Load(ctx context.Context) (storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(storage.Document), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", storage.ErrIO, s.path, err)
	}

	return decodeDocument(s.path, data)
}

// Save serializes doc and replaces the backing file, creating its directory
// if needed.
func (s *Store) Save(ctx context.Context, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("%w: encode document: %w", storage.ErrFormat, err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: create dir %s: %w", storage.ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %s: %w", storage.ErrIO, dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", storage.ErrIO, tmpName, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod %s: %w", storage.ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", storage.ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", storage.ErrIO, s.path, err)
	}
	return nil
}

// Append loads the document, sets timestamp to sub and saves it back.
// A collision on timestamp overwrites the previous entry.
func (s *Store) Append(ctx context.Context, timestamp string, sub form.Submission) error {
	doc, err := s.Load(ctx)
	if err != nil {
		return err
	}
	doc[timestamp] = sub.Clone()
	return s.Save(ctx, doc)
}

// Close is a no-op; the file is only open during Load and Save.
func (s *Store) Close() error {
	return nil
}

func decodeDocument(path string, data []byte) (storage.Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", storage.ErrFormat, path)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: %s top level is not an object", storage.ErrFormat, path)
	}

	doc := make(storage.Document)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", storage.ErrFormat, path, err)
	}
	return doc, nil
}
