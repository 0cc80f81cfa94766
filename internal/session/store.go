package session

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// ErrNoRecord is returned by Store.Load when nothing is persisted.
var ErrNoRecord = errors.New("no session record")

// scrubMin is the minimum number of filler bytes written by Scrub.
const scrubMin = 1024

// Store persists a single session record.
type Store interface {
	// Load returns the persisted record or ErrNoRecord.
	Load() ([]byte, error)
	// Save replaces the record.
	Save(data []byte) error
	// Restrict limits access to the owning principal.
	Restrict() error
	// Scrub overwrites the record's storage with fixed filler bytes.
	Scrub() error
	// Remove deletes the record. Removing a missing record is not an error.
	Remove() error
}

// FileStore keeps the record in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by <dir>/.session, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{path: filepath.Join(dir, ".session")}, nil
}

// Path returns the record file location.
func (f *FileStore) Path() string { return f.path }

// Load reads the record file.
func (f *FileStore) Load() ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRecord
	}
	return b, err
}

// Save writes the record file, truncating any previous content.
func (f *FileStore) Save(data []byte) error {
	return os.WriteFile(f.path, data, 0o600)
}

// Restrict sets owner read/write only.
func (f *FileStore) Restrict() error {
	return os.Chmod(f.path, 0o600)
}

// Scrub overwrites the file in place with zero bytes covering at least its
// current length, then syncs.
func (f *FileStore) Scrub() error {
	fh, err := os.OpenFile(f.path, os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return err
	}
	n := st.Size()
	if n < scrubMin {
		n = scrubMin
	}
	if _, err := fh.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := fh.Write(make([]byte, n)); err != nil {
		return err
	}
	return fh.Sync()
}

// Remove unlinks the file.
func (f *FileStore) Remove() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
