package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrInvalidSize indicates a pack size that is not a positive integer.
	ErrInvalidSize = errors.New("pack size must be a positive integer")
	// ErrDuplicateSize indicates the pack size is already registered.
	ErrDuplicateSize = errors.New("pack size already exists")
	// ErrNotFound indicates the referenced pack size is not registered.
	ErrNotFound = errors.New("pack size not found")
	// ErrTooManySizes indicates the registry already holds the maximum number of sizes.
	ErrTooManySizes = errors.New("pack size limit reached")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("pack size registry unavailable")
)

var defaultPackSizes = []int{250, 500, 1000, 2000, 5000}

// Registry holds the set of pack sizes available to the calculator.
// Implementations serialise mutations and never expose a half-applied Replace.
type Registry interface {
	List(ctx context.Context) ([]int, error)
	Add(ctx context.Context, size int) error
	Remove(ctx context.Context, size int) error
	Replace(ctx context.Context, oldSize, newSize int) error
}

// DefaultPackSizes returns a copy of the default pack sizes slice.
func DefaultPackSizes() []int {
	return slices.Clone(defaultPackSizes)
}

// MemoryRegistry keeps pack sizes in-memory and guards access with a RWMutex.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sizes    map[int]struct{}
	maxSizes int
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithMemoryLimit caps the number of registered sizes. Zero means no cap.
func WithMemoryLimit(maxSizes int) MemoryOption {
	return func(r *MemoryRegistry) {
		if maxSizes >= 0 {
			r.maxSizes = maxSizes
		}
	}
}

// NewMemoryRegistry seeds a registry with the provided sizes. Duplicates in
// the seed collapse; an empty seed yields an empty registry.
func NewMemoryRegistry(initial []int, opts ...MemoryOption) (*MemoryRegistry, error) {
	r := &MemoryRegistry{sizes: make(map[int]struct{}, len(initial))}
	for _, opt := range opts {
		opt(r)
	}

	for _, size := range initial {
		if size <= 0 {
			return nil, ErrInvalidSize
		}
		r.sizes[size] = struct{}{}
	}
	if r.maxSizes > 0 && len(r.sizes) > r.maxSizes {
		return nil, fmt.Errorf("%w: %d sizes exceed the limit of %d", ErrTooManySizes, len(r.sizes), r.maxSizes)
	}
	return r, nil
}

// List returns the registered sizes in ascending order.
func (r *MemoryRegistry) List(_ context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sizes), nil
}

// Add registers a new pack size. A duplicate is reported before the size cap.
func (r *MemoryRegistry) Add(_ context.Context, size int) error {
	if size <= 0 {
		return ErrInvalidSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sizes[size]; ok {
		return ErrDuplicateSize
	}
	if r.maxSizes > 0 && len(r.sizes) >= r.maxSizes {
		return fmt.Errorf("%w: limit is %d", ErrTooManySizes, r.maxSizes)
	}
	r.sizes[size] = struct{}{}
	return nil
}

// Remove unregisters a pack size. Removing the last size is allowed.
func (r *MemoryRegistry) Remove(_ context.Context, size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sizes[size]; !ok {
		return ErrNotFound
	}
	delete(r.sizes, size)
	return nil
}

// Replace swaps oldSize for newSize under a single lock.
func (r *MemoryRegistry) Replace(_ context.Context, oldSize, newSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sizes[oldSize]; !ok {
		return ErrNotFound
	}
	if newSize <= 0 {
		return ErrInvalidSize
	}
	if oldSize == newSize {
		return nil
	}
	if _, ok := r.sizes[newSize]; ok {
		return ErrDuplicateSize
	}
	delete(r.sizes, oldSize)
	r.sizes[newSize] = struct{}{}
	return nil
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for size := range set {
		out = append(out, size)
	}
	slices.Sort(out)
	return out
}
