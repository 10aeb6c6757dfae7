// Package arena provides the byte-range backing store the zone engine
// writes into. An arena stands in for the reserved memory region the
// engine was designed around: callers get a stable byte slice whose
// contents may outlive the process when the arena is file-backed.
package arena

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when an arena is used after Close.
var ErrClosed = errors.New("arena: closed")

// Arena is a fixed-size byte region. The slice returned by Bytes stays
// valid until Close; writes through it are made durable by Sync for
// implementations that persist.
type Arena interface {
	Bytes() []byte
	Sync() error
	Close() error
}

// MemArena is a volatile in-process arena, used in tests and by embedders
// that manage persistence themselves.
type MemArena struct {
	buf    []byte
	closed bool
}

// NewMemArena returns a zeroed arena of the given size.
func NewMemArena(size int) *MemArena {
	return &MemArena{buf: make([]byte, size)}
}

func (m *MemArena) Bytes() []byte {
	if m.closed {
		return nil
	}
	return m.buf
}

func (m *MemArena) Sync() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemArena) Close() error {
	m.closed = true
	m.buf = nil
	return nil
}

// FileArena maps a file into memory so the region survives process
// restarts. The file is created and extended to size if needed.
type FileArena struct {
	f    *os.File
	data []byte
}

// OpenFileArena opens (creating if absent) path and maps size bytes of it.
func OpenFileArena(path string, size int) (*FileArena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: stat %s: %w", path, err)
	}
	if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("arena: truncate %s: %w", path, err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}
	return &FileArena{f: f, data: data}, nil
}

func (a *FileArena) Bytes() []byte { return a.data }

// Sync flushes the mapping to the backing file.
func (a *FileArena) Sync() error {
	if a.data == nil {
		return ErrClosed
	}
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("arena: msync: %w", err)
	}
	return nil
}

func (a *FileArena) Close() error {
	if a.data == nil {
		return nil
	}
	syncErr := unix.Msync(a.data, unix.MS_SYNC)
	unmapErr := unix.Munmap(a.data)
	a.data = nil
	closeErr := a.f.Close()
	if syncErr != nil {
		return fmt.Errorf("arena: msync on close: %w", syncErr)
	}
	if unmapErr != nil {
		return fmt.Errorf("arena: munmap: %w", unmapErr)
	}
	return closeErr
}
