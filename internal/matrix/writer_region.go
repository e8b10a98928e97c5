package matrix

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
)

// WriterRegion is the writer-side handle on the shared-memory matrix. It is
// not used by the reader core at all — it exists for cmd/feedsim and the
// tests, which need a region to publish into. The production feeder is a
// separate process outside this repository.
type WriterRegion struct {
	file *os.File
	data []byte
}

// Create allocates (or truncates and reopens) the region file at path to
// exactly RegionSize bytes and maps it read-write. The region is
// zero-filled on creation, so every slot starts at seq == 0 ("never
// written") and the reserved tail bytes stay zero.
func Create(path string) (*WriterRegion, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("matrix: create %s: %w", path, err)
	}

	if err := f.Truncate(int64(RegionSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("matrix: truncate %s: %w", path, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, RegionSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("matrix: mmap %s: %w", path, err)
	}

	return &WriterRegion{file: f, data: data}, nil
}

// Close unmaps and closes the region.
func (w *WriterRegion) Close() error {
	var err error
	if w.data != nil {
		err = syscall.Munmap(w.data)
		w.data = nil
	}
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Slot returns the mutable 64-byte window for (symbol, exchange).
func (w *WriterRegion) Slot(s, e int) []byte {
	off := SlotOffset(s, e)
	return w.data[off : off+SlotSize]
}

// AdvanceVersion release-stores versions[s] = versions[s] + 1, signalling
// readers that some slot of symbol s changed. Callers must have finished
// all slot writes for s (and their seq-even commits) before calling this.
func (w *WriterRegion) AdvanceVersion(s int) uint64 {
	ptr := wordAt(w.data, VersionOffset(s))
	next := atomic.LoadUint64(ptr) + 1
	atomic.StoreUint64(ptr, next)
	return next
}

// SetVersion is a test-only escape hatch for constructing version-counter
// states (a bare advance with no slot write, a regression) that AdvanceVersion
// never produces.
func (w *WriterRegion) SetVersion(s int, v uint64) {
	atomic.StoreUint64(wordAt(w.data, VersionOffset(s)), v)
}
