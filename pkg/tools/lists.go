package tools

import (
	"encoding/json"
	"math"
)

// Partition splits items into contiguous chunks so that the serialised size
// of each chunk stays at or below maxPayloadSize. The items are assumed to be
// relatively equal in size, so the byte ceiling is an approximation rather
// than a hard guarantee.
func Partition[T any](items []T, maxPayloadSize int) [][]T {
	if len(items) == 0 {
		return nil
	}

	serialised, err := json.Marshal(items)
	if err != nil {
		return [][]T{items}
	}

	chunks := int(math.Ceil(float64(len(serialised)) / float64(maxPayloadSize)))
	chunkLength := int(math.Ceil(float64(len(items)) / float64(chunks)))

	parts := make([][]T, 0, chunks)
	for index := 0; index < len(items); index += chunkLength {
		end := index + chunkLength
		if end > len(items) {
			end = len(items)
		}
		parts = append(parts, items[index:end])
	}

	return parts
}

// Item is a node in an arbitrarily nested sequence: either a single leaf
// value or a nested sequence of items.
type Item[T any] interface {
	isItem()
}

type Leaf[T any] struct {
	Value T
}

type Nested[T any] struct {
	Items []Item[T]
}

func (Leaf[T]) isItem()   {}
func (Nested[T]) isItem() {}

// Flatten recursively flattens the given items into a single ordered sequence.
func Flatten[T any](items []Item[T]) []T {
	flattened := make([]T, 0, len(items))

	for _, item := range items {
		switch node := item.(type) {
		case Leaf[T]:
			flattened = append(flattened, node.Value)
		case Nested[T]:
			flattened = append(flattened, Flatten(node.Items)...)
		}
	}

	return flattened
}

// Dedupe removes consecutive duplicates from an already sorted sequence,
// using the given equality function.
func Dedupe[T any](sorted []T, equal func(a, b T) bool) []T {
	if len(sorted) == 0 {
		return []T{}
	}

	unique := make([]T, 0, len(sorted))
	unique = append(unique, sorted[0])

	for _, item := range sorted[1:] {
		if !equal(item, unique[len(unique)-1]) {
			unique = append(unique, item)
		}
	}

	return unique
}
