package chipz

// GPRegCount is the number of general-purpose host registers the emitter is
// ever allowed to hand out (the 16 amd64 general-purpose registers minus rsp
// and rbp, which the allocator never touches). Mirrors jip::TotalRegCount's sibling
// constant in the original source without the base-pointer/stack-pointer
// reservations, which chipz keeps out of the allocator's free list entirely
// instead of special-casing them at allocation time.
const GPRegCount = 14

// FixedVec is a fixed-capacity, stable-layout collection used wherever the
// allocator needs a small scratch list rebuilt every instruction without
// touching the heap. Grounded on original_source/core/util/static_stack.hpp
// (cip::StaticVector): push onto the end, read by index, truncate with
// Reset. Go's slice-over-array gives the same guarantee without a generic
// reimplementation of bounds checking, so this is a thin wrapper rather than
// a from-scratch data structure.
type FixedVec[T any] struct {
	items [GPRegCount]T
	n     int
}

// Push appends v, panicking if the fixed capacity is exceeded — a capacity
// overrun here is a bug in the allocator, not a runtime condition to recover
// from (at most GPRegCount registers can ever be live to store at once).
func (f *FixedVec[T]) Push(v T) {
	f.items[f.n] = v
	f.n++
}

// Len reports how many elements are currently stored.
func (f *FixedVec[T]) Len() int { return f.n }

// At returns the element at index i.
func (f *FixedVec[T]) At(i int) T { return f.items[i] }

// Reset truncates the vector to empty without releasing its backing array.
func (f *FixedVec[T]) Reset() { f.n = 0 }

// Slice returns the populated prefix as an ordinary slice for iteration.
func (f *FixedVec[T]) Slice() []T { return f.items[:f.n] }
