package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinOrder(t *testing.T) {
	pq := NewMin(4)
	for _, d := range []float32{0.5, 0.1, 0.9, 0.3} {
		heap.Push(pq, &PriorityQueueItem{Node: uint64(d * 10), Distance: d})
	}

	require.Equal(t, 4, pq.Len())
	assert.Equal(t, float32(0.1), pq.Top().Distance)

	var got []float32
	for pq.Len() > 0 {
		item, _ := heap.Pop(pq).(*PriorityQueueItem)
		got = append(got, item.Distance)
	}
	assert.Equal(t, []float32{0.1, 0.3, 0.5, 0.9}, got)
}

func TestMaxOrder(t *testing.T) {
	pq := NewMax(4)
	for _, d := range []float32{0.5, 0.1, 0.9, 0.3} {
		heap.Push(pq, &PriorityQueueItem{Distance: d})
	}

	assert.Equal(t, float32(0.9), pq.Top().Distance)

	item, _ := heap.Pop(pq).(*PriorityQueueItem)
	assert.Equal(t, float32(0.9), item.Distance)
	assert.Equal(t, float32(0.5), pq.Top().Distance)
}

func TestPopEmpty(t *testing.T) {
	pq := NewMin(0)
	assert.Nil(t, pq.Pop())
}
