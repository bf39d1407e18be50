package scheduler

import "container/heap"

// Compile time check to ensure blockHeap satisfies the heap interface.
var _ heap.Interface = (*blockHeap)(nil)

// heapItem represents a queued block ordered by its timeline position.
type heapItem struct {
	Block Block
	Start int64 // Start is the priority, lower plays sooner.
	Index int   // Index is maintained by the heap.Interface methods.
}

// blockHeap implements heap.Interface and holds heapItems in ascending
// timeline order, so blocks nearest the start of playback compute first.
type blockHeap struct {
	Items []*heapItem
}

func (h *blockHeap) Len() int { return len(h.Items) }

func (h *blockHeap) Less(i, j int) bool {
	return h.Items[i].Start < h.Items[j].Start
}

func (h *blockHeap) Swap(i, j int) {
	h.Items[i], h.Items[j] = h.Items[j], h.Items[i]
	h.Items[i].Index, h.Items[j].Index = i, j
}

func (h *blockHeap) Push(x any) {
	item, _ := x.(*heapItem)
	item.Index = len(h.Items)
	h.Items = append(h.Items, item)
}

func (h *blockHeap) Pop() any {
	old := h.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.Index = -1
	h.Items = old[:n-1]

	return item
}
