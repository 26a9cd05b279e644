package gfx

// AllocationScope classifies the lifetime of a driver-side host allocation.
type AllocationScope int

const (
	ScopeObject AllocationScope = iota
	ScopeDevice
	ScopeInstance
)

// Allocator is the host allocation strategy an application may supply at
// creation time. The layer never allocates through it directly; it forwards
// the owning device's allocator to every driver object it creates or
// destroys, so driver-side host allocations stay attributed to the
// application's strategy. A nil Allocator means the driver's built-in
// allocator.
type Allocator interface {
	Allocate(size int, scope AllocationScope) []byte
	Free(buf []byte)
}

type defaultAllocator struct{}

func (defaultAllocator) Allocate(size int, _ AllocationScope) []byte {
	return make([]byte, size)
}

func (defaultAllocator) Free([]byte) {}

// DefaultAllocator returns the built-in allocation strategy used when the
// application supplies none.
func DefaultAllocator() Allocator {
	return defaultAllocator{}
}
