package core

import (
	"fmt"
	"sync"
)

// ObjectKind names the kernel objects drawn from the heap.
type ObjectKind int

const (
	ObjectContext ObjectKind = iota
	ObjectWatchdog
	ObjectJoinInfo
	ObjectSemaphore
	numObjectKinds
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectContext:
		return "context"
	case ObjectWatchdog:
		return "watchdog"
	case ObjectJoinInfo:
		return "join_info"
	case ObjectSemaphore:
		return "semaphore"
	default:
		return fmt.Sprintf("ObjectKind(%d)", int(k))
	}
}

// Heap is the allocator the kernel charges for its control structures.
// Go manages the memory itself; the heap decides whether an allocation is
// allowed and keeps the books, which is what exhaustion handling needs.
//
// Implementations must be safe for concurrent use.
type Heap interface {
	// Alloc reserves one object of the given kind or returns ErrNoMemory.
	Alloc(kind ObjectKind) error

	// Free releases one object of the given kind.
	Free(kind ObjectKind)
}

// AccountingHeap enforces per-kind limits and tracks live objects.
type AccountingHeap struct {
	mu       sync.Mutex
	limits   [numObjectKinds]int // 0 = unlimited
	live     [numObjectKinds]int
	allocs   [numObjectKinds]int64
	failures [numObjectKinds]int64
}

var _ Heap = (*AccountingHeap)(nil)

// NewAccountingHeap creates a heap with the given per-kind limits.
// Kinds missing from limits are unlimited.
func NewAccountingHeap(limits map[ObjectKind]int) *AccountingHeap {
	h := &AccountingHeap{}
	for kind, n := range limits {
		h.SetLimit(kind, n)
	}
	return h
}

// UnlimitedHeap returns a heap that never refuses an allocation.
func UnlimitedHeap() *AccountingHeap {
	return NewAccountingHeap(nil)
}

// SetLimit changes the maximum number of live objects of a kind. A limit of
// zero or less removes the limit.
func (h *AccountingHeap) SetLimit(kind ObjectKind, n int) {
	if kind < 0 || kind >= numObjectKinds {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < 0 {
		n = 0
	}
	h.limits[kind] = n
}

func (h *AccountingHeap) Alloc(kind ObjectKind) error {
	if kind < 0 || kind >= numObjectKinds {
		return fmt.Errorf("alloc %v: %w", kind, ErrInvalid)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit := h.limits[kind]; limit > 0 && h.live[kind] >= limit {
		h.failures[kind]++
		return fmt.Errorf("alloc %v: %w", kind, ErrNoMemory)
	}
	h.live[kind]++
	h.allocs[kind]++
	return nil
}

func (h *AccountingHeap) Free(kind ObjectKind) {
	if kind < 0 || kind >= numObjectKinds {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live[kind] == 0 {
		fatalf("heap", "double free of %v", kind)
	}
	h.live[kind]--
}

// Live returns the number of outstanding objects of a kind.
func (h *AccountingHeap) Live(kind ObjectKind) int {
	if kind < 0 || kind >= numObjectKinds {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live[kind]
}

// Allocations returns the total number of successful allocations of a kind.
func (h *AccountingHeap) Allocations(kind ObjectKind) int64 {
	if kind < 0 || kind >= numObjectKinds {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs[kind]
}

// Failures returns the number of refused allocations of a kind.
func (h *AccountingHeap) Failures(kind ObjectKind) int64 {
	if kind < 0 || kind >= numObjectKinds {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[kind]
}
