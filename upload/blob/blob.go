// Package blob describes the file a user selected for upload.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/pathutil"
)

// ErrNoContent is returned by Open for a File without a content source.
var ErrNoContent = errors.New("file has no content")

// File is a selected file. Its content can be opened any number of times, which a retry needs.
type File struct {
	Name string
	Size int64

	path string
	data []byte
}

// FromBytes wraps in-memory content.
func FromBytes(name string, data []byte) File {
	return File{Name: name, Size: int64(len(data)), data: data}
}

// FromFile describes a regular file on disk.
func FromFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return File{}, fmt.Errorf("%s is not a regular file", path)
	}
	return File{Name: info.Name(), Size: info.Size(), path: path}, nil
}

// Archiver packs a directory into a single archive file.
type Archiver interface {
	Archive(archivePath, dir string) error
}

// FromPath describes path as a File. A directory is packed into a temporary archive first.
func FromPath(path string, archiver Archiver, pathProvider pathutil.PathProvider, extension string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return FromFile(path)
	}

	tmpDir, err := pathProvider.CreateTempDir("wizard-upload")
	if err != nil {
		return File{}, fmt.Errorf("create temp dir: %w", err)
	}
	archivePath := filepath.Join(tmpDir, filepath.Base(filepath.Clean(path))+extension)
	if err := archiver.Archive(archivePath, path); err != nil {
		return File{}, err
	}
	return FromFile(archivePath)
}

// Path returns the on-disk location of the content, or "" for in-memory files.
func (f File) Path() string {
	return f.path
}

// IsZero reports whether no file was selected.
func (f File) IsZero() bool {
	return f.Name == "" && f.path == "" && f.data == nil
}

// Open returns a fresh reader positioned at the start of the content.
func (f File) Open() (io.ReadSeekCloser, error) {
	switch {
	case f.path != "":
		return os.Open(f.path)
	case f.data != nil:
		return nopCloser{bytes.NewReader(f.data)}, nil
	default:
		return nil, ErrNoContent
	}
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
