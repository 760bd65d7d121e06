// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heap

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

type Elem[E constraints.Ordered, W constraints.Ordered] struct {
	Value  E
	Weight W
}

// worse reports whether a ranks below b: a lower weight, or an equal weight
// with a greater value.
func worse[E constraints.Ordered, W constraints.Ordered](a, b Elem[E, W]) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	return a.Value > b.Value
}

// _heap keeps the worst element on top.
type _heap[E constraints.Ordered, W constraints.Ordered] struct {
	elems []Elem[E, W]
}

func (h *_heap[E, W]) Len() int {
	return len(h.elems)
}

func (h *_heap[E, W]) Less(i, j int) bool {
	return worse(h.elems[i], h.elems[j])
}

func (h *_heap[E, W]) Swap(i, j int) {
	h.elems[i], h.elems[j] = h.elems[j], h.elems[i]
}

func (h *_heap[E, W]) Push(x interface{}) {
	h.elems = append(h.elems, x.(Elem[E, W]))
}

func (h *_heap[E, W]) Pop() interface{} {
	old := h.elems
	item := old[len(old)-1]
	h.elems = old[0 : len(old)-1]
	return item
}

// TopKFilter filters out top k items with maximum weights. Items with equal
// weights are ranked by ascending value, so the selection is deterministic.
type TopKFilter[E constraints.Ordered, W constraints.Ordered] struct {
	_heap[E, W]
	k int
}

// NewTopKFilter creates a top k filter.
func NewTopKFilter[E constraints.Ordered, W constraints.Ordered](k int) *TopKFilter[E, W] {
	return &TopKFilter[E, W]{k: k, _heap: _heap[E, W]{elems: make([]Elem[E, W], 0, max(k, 0)+1)}}
}

// Push pushes the element x onto the heap.
// The complexity is O(log k).
func (filter *TopKFilter[E, W]) Push(item E, weight W) {
	if filter.k <= 0 {
		return
	}
	elem := Elem[E, W]{Value: item, Weight: weight}
	if filter.Len() == filter.k && !worse(filter.elems[0], elem) {
		return
	}
	heap.Push(&filter._heap, elem)
	if filter.Len() > filter.k {
		heap.Pop(&filter._heap)
	}
}

// PopAll pops all items in the filter with decreasing order.
func (filter *TopKFilter[E, W]) PopAll() []Elem[E, W] {
	elems := make([]Elem[E, W], filter.Len())
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i] = heap.Pop(&filter._heap).(Elem[E, W])
	}
	return elems
}
