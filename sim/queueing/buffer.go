// Package queueing provides the bounded queues that sit between a directory
// bank and the interconnect.
package queueing

import (
	"log"

	"github.com/sarchlab/cohsim/sim/hooking"
)

// HookPosBufPush marks when an element is pushed into the buffer.
var HookPosBufPush = &hooking.HookPos{Name: "Buffer Push"}

// HookPosBufPop marks when an element is popped from the buffer.
var HookPosBufPop = &hooking.HookPos{Name: "Buffer Pop"}

// A Buffer is a bounded fifo queue.
type Buffer[T any] struct {
	hooking.HookableBase

	name     string
	capacity int
	elements []T
}

// BufferBuilder is a builder for Buffer.
type BufferBuilder struct {
	capacity int
}

// MakeBufferBuilder creates a builder with a capacity of 1.
func MakeBufferBuilder() BufferBuilder {
	return BufferBuilder{capacity: 1}
}

// WithCapacity defines the capacity of the buffer.
func (b BufferBuilder) WithCapacity(capacity int) BufferBuilder {
	b.capacity = capacity
	return b
}

// BuildBuffer builds a new Buffer holding elements of type T.
func BuildBuffer[T any](b BufferBuilder, name string) *Buffer[T] {
	if b.capacity <= 0 {
		log.Panicf("buffer %s must have a positive capacity", name)
	}

	return &Buffer[T]{
		name:     name,
		capacity: b.capacity,
	}
}

// Name returns the name of the buffer.
func (b *Buffer[T]) Name() string {
	return b.name
}

// CanPush returns true if at least one more element fits.
func (b *Buffer[T]) CanPush() bool {
	return len(b.elements) < b.capacity
}

// CanPushN returns true if n more elements fit.
func (b *Buffer[T]) CanPushN(n int) bool {
	return len(b.elements)+n <= b.capacity
}

// Push appends an element. Pushing into a full buffer panics.
func (b *Buffer[T]) Push(e T) {
	if len(b.elements) >= b.capacity {
		log.Panicf("buffer %s overflow", b.name)
	}

	b.elements = append(b.elements, e)

	if b.NumHooks() > 0 {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosBufPush,
			Item:   e,
		})
	}
}

// Pop removes the oldest element. The second return value is false if the
// buffer is empty.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T

	if len(b.elements) == 0 {
		return zero, false
	}

	e := b.elements[0]
	b.elements[0] = zero
	b.elements = b.elements[1:]

	if b.NumHooks() > 0 {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosBufPop,
			Item:   e,
		})
	}

	return e, true
}

// Peek returns the oldest element without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	var zero T

	if len(b.elements) == 0 {
		return zero, false
	}

	return b.elements[0], true
}

// Capacity returns the maximum number of elements.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Size returns the number of elements currently buffered.
func (b *Buffer[T]) Size() int {
	return len(b.elements)
}

// Clear discards every element.
func (b *Buffer[T]) Clear() {
	b.elements = nil
}
