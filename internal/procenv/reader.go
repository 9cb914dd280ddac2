package procenv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// MaxRecordSize is the largest environ record read in one snapshot.
// Anything past it is not seen.
const MaxRecordSize = 4096

var (
	// ErrRead is returned when the environ record cannot be opened or read,
	// typically because the process already exited.
	ErrRead = errors.New("environment record unreadable")
	// ErrNotFound is returned when the variable is absent from the snapshot.
	ErrNotFound = errors.New("environment variable not found")
)

// Reader reads environ records relative to a proc root.
type Reader struct {
	fs afero.Fs
}

// NewReader creates a Reader on fs. Paths are resolved as /<pid>/environ,
// so fs must be rooted at the proc mount.
func NewReader(fs afero.Fs) *Reader {
	return &Reader{fs: fs}
}

// NewProcReader creates a Reader over the host filesystem mounted at procRoot.
func NewProcReader(procRoot string) *Reader {
	return NewReader(afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), procRoot)))
}

// Snapshot reads the environ record of pid, up to MaxRecordSize bytes.
func (r *Reader) Snapshot(pid int) (Snapshot, error) {
	path := filepath.Join("/", strconv.Itoa(pid), "environ")

	f, err := r.fs.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: pid %d: %w", ErrRead, pid, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	buf := make([]byte, MaxRecordSize)
	n, err := io.ReadFull(f, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		// Short reads are the normal case, the record is smaller than the buffer.
	default:
		return Snapshot{}, fmt.Errorf("%w: pid %d: %w", ErrRead, pid, err)
	}

	if n == 0 {
		return Snapshot{}, fmt.Errorf("%w: pid %d: empty record", ErrRead, pid)
	}

	return Snapshot{data: buf[:n], full: n == MaxRecordSize}, nil
}

// ReadVariable returns the value of name in the environment of pid.
func (r *Reader) ReadVariable(pid int, name string) (string, error) {
	snap, err := r.Snapshot(pid)
	if err != nil {
		return "", err
	}

	value, ok := snap.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s in pid %d", ErrNotFound, name, pid)
	}
	return value, nil
}

// Environment returns every variable in the environment of pid.
func (r *Reader) Environment(pid int) (map[string]string, error) {
	snap, err := r.Snapshot(pid)
	if err != nil {
		return nil, err
	}
	return snap.Map(), nil
}

// Snapshot is one bounded read of an environ record. It is owned by the
// caller and never refreshed.
type Snapshot struct {
	data []byte
	full bool
}

// Len returns the number of bytes captured.
func (s Snapshot) Len() int {
	return len(s.data)
}

// Lookup returns the value of the first entry named exactly name.
func (s Snapshot) Lookup(name string) (string, bool) {
	if name == "" || strings.IndexByte(name, '=') >= 0 {
		return "", false
	}

	for entry := range s.entries() {
		if len(entry) > len(name) && entry[len(name)] == '=' && string(entry[:len(name)]) == name {
			return string(entry[len(name)+1:]), true
		}
	}
	return "", false
}

// Map parses every complete entry. Entries without '=' or with an empty key
// are skipped; for duplicate keys the last one wins.
func (s Snapshot) Map() map[string]string {
	env := make(map[string]string)
	for entry := range s.entries() {
		if idx := bytes.IndexByte(entry, '='); idx > 0 {
			env[string(entry[:idx])] = string(entry[idx+1:])
		}
	}
	return env
}

// entries yields the non-empty NUL-separated entries. When the record filled
// the whole buffer the unterminated tail may be cut mid-entry and is dropped.
func (s Snapshot) entries() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		data := s.data
		for len(data) > 0 {
			end := bytes.IndexByte(data, 0)
			if end < 0 {
				if !s.full {
					yield(data)
				}
				return
			}
			if end > 0 && !yield(data[:end]) {
				return
			}
			data = data[end+1:]
		}
	}
}
