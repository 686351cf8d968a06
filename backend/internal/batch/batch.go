// Package batch splits ordered input into bounded chunks for store writes.
package batch

// DefaultSize is the number of rows submitted per store write.
const DefaultSize = 1000

// Split returns consecutive chunks of at most size items, preserving order.
// The chunks share the backing array of items. A non-positive size falls
// back to DefaultSize.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// Each calls fn for every chunk with its zero-based index and stops at the
// first error.
func Each[T any](items []T, size int, fn func(index int, chunk []T) error) error {
	for i, chunk := range Split(items, size) {
		if err := fn(i, chunk); err != nil {
			return err
		}
	}
	return nil
}
