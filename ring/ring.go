// Package ring provides the bounded receive buffer used by the serial unit.
//
// A Buffer holds at most Cap()-1 bytes: one slot always stays empty so that
// head == tail means empty and head+1 == tail means full. Buffer is not safe
// for concurrent use; the owner serializes access.
package ring

import (
	"errors"
	"fmt"
)

// MaxCapacity is the largest buffer DefaultAllocator will hand out.
const MaxCapacity = 1 << 20

var (
	// ErrAllocation indicates the storage for a buffer could not be obtained.
	ErrAllocation = errors.New("buffer allocation failed")

	// ErrCapacity indicates a capacity too small to tell full from empty.
	ErrCapacity = errors.New("buffer capacity must be at least 2")
)

// Allocator obtains backing storage of exactly n bytes.
type Allocator func(n int) ([]byte, error)

// DefaultAllocator allocates from the Go heap, refusing sizes above MaxCapacity.
func DefaultAllocator(n int) ([]byte, error) {
	if n <= 0 || n > MaxCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrAllocation, n)
	}
	return make([]byte, n), nil
}

// Buffer is a fixed-capacity circular byte store.
type Buffer struct {
	data []byte
	head int // next slot to write
	tail int // next slot to read
}

// New returns an empty buffer of the given capacity. A nil alloc uses
// DefaultAllocator.
func New(capacity int, alloc Allocator) (*Buffer, error) {
	data, err := allocate(capacity, alloc)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data}, nil
}

func allocate(n int, alloc Allocator) ([]byte, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, n)
	}
	if alloc == nil {
		alloc = DefaultAllocator
	}
	data, err := alloc(n)
	if err != nil {
		if !errors.Is(err, ErrAllocation) {
			err = fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrAllocation, len(data), n)
	}
	return data, nil
}

// Cap returns the size of the backing storage. At most Cap()-1 bytes are
// ever buffered.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Available returns the number of buffered bytes.
func (b *Buffer) Available() int {
	n := len(b.data)
	return (n + b.head - b.tail) % n
}

// Free returns the number of bytes that can still be pushed.
func (b *Buffer) Free() int {
	return len(b.data) - 1 - b.Available()
}

// Empty reports whether no bytes are buffered.
func (b *Buffer) Empty() bool {
	return b.head == b.tail
}

// Full reports whether a push would fail.
func (b *Buffer) Full() bool {
	return (b.head+1)%len(b.data) == b.tail
}

// TryPush appends c. It returns false if the buffer is full.
func (b *Buffer) TryPush(c byte) bool {
	next := (b.head + 1) % len(b.data)
	if next == b.tail {
		return false
	}
	b.data[b.head] = c
	b.head = next
	return true
}

// TryPop removes the oldest byte. It returns false if the buffer is empty.
func (b *Buffer) TryPop() (byte, bool) {
	if b.head == b.tail {
		return 0, false
	}
	c := b.data[b.tail]
	b.tail = (b.tail + 1) % len(b.data)
	return c, true
}

// Reset discards all buffered bytes. The storage is not cleared.
func (b *Buffer) Reset() {
	b.head, b.tail = 0, 0
}

// Resize replaces the storage with n fresh bytes, discarding the contents.
// On failure the current storage and contents are left untouched.
func (b *Buffer) Resize(n int, alloc Allocator) error {
	data, err := allocate(n, alloc)
	if err != nil {
		return err
	}
	b.data = data
	b.head, b.tail = 0, 0
	return nil
}
