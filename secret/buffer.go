// Package secret holds key material in memory that the Go garbage collector
// never sees.
//
// A Buffer is backed by an anonymous mmap region that is locked against
// swapping and excluded from core dumps. Every region is zeroed before it is
// unmapped, both on Close and when the buffer grows into a larger region.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var pageSize = os.Getpagesize()

// unmapRegion is swapped by tests that need to observe released memory.
var unmapRegion = unix.Munmap

func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Buffer is a growable byte buffer for secrets. It must not be copied after
// creation and must be closed when no longer needed.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New returns an empty buffer with room for at least capacity bytes.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("secret: buffer capacity must be positive, got %d", capacity)
	}
	data, err := allocate(capacity)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data}, nil
}

// NewFromBytes copies source into a new buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	b.length = copy(b.data, source)
	Zero(source)
	return b, nil
}

func allocate(capacity int) ([]byte, error) {
	size := (capacity + pageSize - 1) / pageSize * pageSize
	data, err := mapRegion(size)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		_ = unmapRegion(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		_ = unix.Munlock(data)
		_ = unmapRegion(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return data, nil
}

func release(data []byte) error {
	Zero(data)
	var firstErr error
	if err := unix.Munlock(data); err != nil {
		firstErr = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unmapRegion(data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap failed: %w", err)
	}
	return firstErr
}

// Bytes returns the contents. The slice aliases the locked region and must
// not be retained past Close. Panics if the buffer is closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return b.data[:b.length]
}

// String returns a heap copy of the contents. Only use it where an API
// insists on a string.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	return string(b.data[:b.length])
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) mustBeOpen() {
	if b.closed {
		panic("secret: use of closed buffer")
	}
}

// grow makes room for n more bytes. The old region is wiped and released
// once its contents have moved.
func (b *Buffer) grow(n int) error {
	if b.length+n <= len(b.data) {
		return nil
	}
	capacity := 2 * len(b.data)
	if capacity < b.length+n {
		capacity = b.length + n
	}
	data, err := allocate(capacity)
	if err != nil {
		return err
	}
	copy(data, b.data[:b.length])
	old := b.data
	b.data = data
	return release(old)
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()
	if err := b.grow(len(p)); err != nil {
		return err
	}
	b.length += copy(b.data[b.length:], p)
	return nil
}

// ReadFrom reads r until EOF straight into the locked region, chunk bytes at
// a time, so no intermediate heap buffer ever holds the data.
func (b *Buffer) ReadFrom(r io.Reader, chunk int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustBeOpen()

	var total int64
	for {
		if err := b.grow(chunk); err != nil {
			return total, err
		}
		n, err := r.Read(b.data[b.length : b.length+chunk])
		b.length += n
		total += int64(n)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Close wipes and releases the buffer. It is idempotent and safe on a nil
// buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	err := release(b.data)
	b.data = nil
	b.length = 0
	return err
}

// Zero overwrites p with zeroes.
func Zero(p []byte) {
	clear(p)
}
