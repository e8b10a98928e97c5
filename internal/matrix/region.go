package matrix

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
)

// ErrNotFound is returned when the shared-memory region file does not exist.
var ErrNotFound = errors.New("matrix: region not found")

// ErrWrongSize is returned when the region file is smaller than the size
// required by the configured SMax/EMax.
var ErrWrongSize = errors.New("matrix: region has wrong size")

// Region is a read-only mapping of the shared-memory matrix. Readers attach
// to it at any point after the writer has created it; Region itself never
// writes.
type Region struct {
	file *os.File
	data []byte
}

// Open attaches to the shared-memory region at path, read-only. It fails
// with ErrNotFound if the file does not exist and ErrWrongSize if the file
// is smaller than RegionSize.
//
// Open does not retry; callers that want to tolerate "writer not started
// yet" retry Open themselves on a backoff.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matrix: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("matrix: stat %s: %w", path, err)
	}
	if info.Size() < int64(RegionSize) {
		f.Close()
		return nil, ErrWrongSize
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, RegionSize, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("matrix: mmap %s: %w", path, err)
	}

	return &Region{file: f, data: data}, nil
}

// Close unmaps the region and closes the underlying file descriptor.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		err = syscall.Munmap(r.data)
		r.data = nil
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Version acquire-loads the version counter for symbol s.
func (r *Region) Version(s int) uint64 {
	return atomic.LoadUint64(wordAt(r.data, VersionOffset(s)))
}

// Slot returns the 64-byte window for (symbol, exchange). It performs no
// load — callers pass this to internal/seqlock.ReadSlot to perform the
// guarded read.
func (r *Region) Slot(s, e int) []byte {
	off := SlotOffset(s, e)
	return r.data[off : off+SlotSize]
}
