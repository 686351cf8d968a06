package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	chunks := Split(items, 3)

	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, chunks)
}

func TestSplit_ExactMultiple(t *testing.T) {
	chunks := Split([]string{"a", "b", "c", "d"}, 2)

	assert.Len(t, chunks, 2)
	assert.Equal(t, []string{"c", "d"}, chunks[1])
}

func TestSplit_EmptyAndDefaultSize(t *testing.T) {
	assert.Nil(t, Split([]int{}, 10))

	items := make([]int, DefaultSize+1)
	chunks := Split(items, 0)
	assert.Len(t, chunks, 2)
	assert.Len(t, chunks[0], DefaultSize)
	assert.Len(t, chunks[1], 1)
}

func TestSplit_ChunksDoNotOverwriteEachOther(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Split(items, 2)

	chunks[0] = append(chunks[0], 99)

	assert.Equal(t, []int{3, 4}, chunks[1])
}

func TestEach_StopsAtFirstError(t *testing.T) {
	var seen []int
	boom := errors.New("boom")

	err := Each([]int{1, 2, 3, 4, 5}, 2, func(index int, chunk []int) error {
		seen = append(seen, index)
		if index == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{0, 1}, seen)
}
