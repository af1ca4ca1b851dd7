package graph

import "container/heap"

// readyItem is one node scheduled for the current round, together with the
// edges whose deliveries made it ready.
type readyItem struct {
	// OrderKey is the deterministic sort key, see computeOrderKey.
	OrderKey uint64

	// node is the node's registration position.
	node int

	// via lists the delivering incoming edge indices in registration order.
	// Empty for the first activation of an entry node.
	via []int
}

// computeOrderKey builds the sort key for a ready node.
//
// The lowest delivering edge index dominates, then the node's registration
// position. Entry activations (edgeIndex < 0) sort before any edge delivery.
// Replays with identical worker outputs therefore commit messages in the same
// order regardless of completion timing.
func computeOrderKey(edgeIndex, nodeIndex int) uint64 {
	return uint64(edgeIndex+1)<<32 | uint64(uint32(nodeIndex))
}

// readyHeap implements heap.Interface ordered by OrderKey.
type readyHeap []readyItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	return h[i].OrderKey < h[j].OrderKey
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *readyHeap) Push(x interface{}) {
	*h = append(*h, x.(readyItem))
}

func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// frontier collects the ready nodes of one round and hands them out in
// deterministic order. It is owned by the engine's round-advancement step and
// is not safe for concurrent use.
type frontier struct {
	heap readyHeap
}

func newFrontier() *frontier {
	f := &frontier{heap: make(readyHeap, 0)}
	heap.Init(&f.heap)
	return f
}

func (f *frontier) push(item readyItem) {
	heap.Push(&f.heap, item)
}

// drain pops every item in OrderKey order, leaving the frontier empty.
func (f *frontier) drain() []readyItem {
	out := make([]readyItem, 0, f.heap.Len())
	for f.heap.Len() > 0 {
		out = append(out, heap.Pop(&f.heap).(readyItem))
	}
	return out
}
