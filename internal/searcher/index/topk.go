package index

import "container/heap"

// topK keeps the k best hits seen so far. The heap root is the worst kept
// hit so it can be evicted in O(log k).
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k+1)}
}

func (t *topK) offer(hit Hit) {
	if t.h.Len() == t.k && !worse(t.h[0], hit) {
		return
	}
	heap.Push(&t.h, hit)
	if t.h.Len() > t.k {
		heap.Pop(&t.h)
	}
}

// sorted drains the heap best-first.
func (t *topK) sorted() []Hit {
	out := make([]Hit, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(Hit)
	}
	return out
}

// worse reports whether a ranks below b.
func worse(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Index > b.Index
}

type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) {
	*h = append(*h, x.(Hit))
}

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
