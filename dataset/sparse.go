// Copyright 2026 gorse Project Authors
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

package dataset

import (
	"iter"
	"slices"

	"github.com/chewxy/math32"
)

// gallopRatio is the length ratio above which intersections binary-search
// the longer vector instead of merging.
const gallopRatio = 8

// SparseVector is a sparse vector whose indices are kept strictly ascending.
// A user row maps item indices to weights, an item column maps user indices
// to weights.
type SparseVector struct {
	Indices []int32
	Values  []float32
}

// Len returns the number of non-zero entries.
func (vec *SparseVector) Len() int {
	return len(vec.Indices)
}

func (vec *SparseVector) search(index int32) (int, bool) {
	return slices.BinarySearch(vec.Indices, index)
}

// Get returns the value at index in O(log n).
func (vec *SparseVector) Get(index int32) (float32, bool) {
	if pos, ok := vec.search(index); ok {
		return vec.Values[pos], true
	}
	return 0, false
}

// Contains reports whether index is stored.
func (vec *SparseVector) Contains(index int32) bool {
	_, ok := vec.search(index)
	return ok
}

// Set stores value at index, overwriting an existing entry. It returns
// true if the index was new.
func (vec *SparseVector) Set(index int32, value float32) bool {
	pos, ok := vec.search(index)
	if ok {
		vec.Values[pos] = value
		return false
	}
	vec.Indices = slices.Insert(vec.Indices, pos, index)
	vec.Values = slices.Insert(vec.Values, pos, value)
	return true
}

// ForEach iterates entries in ascending index order.
func (vec *SparseVector) ForEach(f func(index int32, value float32)) {
	for i := range vec.Indices {
		f(vec.Indices[i], vec.Values[i])
	}
}

// All returns an iterator over entries in ascending index order.
func (vec *SparseVector) All() iter.Seq2[int32, float32] {
	return func(yield func(int32, float32) bool) {
		for i := range vec.Indices {
			if !yield(vec.Indices[i], vec.Values[i]) {
				return
			}
		}
	}
}

// ForIntersection iterates common indices of two vectors in ascending order.
// Vectors of similar length are merged in linear time. When one vector is
// much shorter, its entries are located in the longer one by binary search
// over a shrinking window, so the cost follows the shorter vector.
func (vec *SparseVector) ForIntersection(other *SparseVector, f func(index int32, a, b float32)) {
	n, m := vec.Len(), other.Len()
	if n == 0 || m == 0 {
		return
	}
	switch {
	case n*gallopRatio < m:
		lo := 0
		for i, index := range vec.Indices {
			pos, ok := slices.BinarySearch(other.Indices[lo:], index)
			lo += pos
			if lo >= m {
				return
			}
			if ok {
				f(index, vec.Values[i], other.Values[lo])
				lo++
			}
		}
	case m*gallopRatio < n:
		lo := 0
		for j, index := range other.Indices {
			pos, ok := slices.BinarySearch(vec.Indices[lo:], index)
			lo += pos
			if lo >= n {
				return
			}
			if ok {
				f(index, vec.Values[lo], other.Values[j])
				lo++
			}
		}
	default:
		i, j := 0, 0
		for i < n && j < m {
			if vec.Indices[i] == other.Indices[j] {
				f(vec.Indices[i], vec.Values[i], other.Values[j])
				i++
				j++
			} else if vec.Indices[i] < other.Indices[j] {
				i++
			} else {
				j++
			}
		}
	}
}

// Norm returns the L2 norm. Values are accumulated in index order, so the
// result only depends on the vector contents.
func (vec *SparseVector) Norm() float32 {
	var sum float32
	for _, value := range vec.Values {
		sum += value * value
	}
	return math32.Sqrt(sum)
}

// Mean returns the mean of stored values, or zero for an empty vector.
func (vec *SparseVector) Mean() float32 {
	if len(vec.Values) == 0 {
		return 0
	}
	var sum float32
	for _, value := range vec.Values {
		sum += value
	}
	return sum / float32(len(vec.Values))
}

// Clone returns a deep copy.
func (vec *SparseVector) Clone() SparseVector {
	return SparseVector{
		Indices: slices.Clone(vec.Indices),
		Values:  slices.Clone(vec.Values),
	}
}
