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
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestSparseVector(t *testing.T) {
	var vec SparseVector
	assert.True(t, vec.Set(5, 1))
	assert.True(t, vec.Set(1, 2))
	assert.True(t, vec.Set(3, 3))
	assert.False(t, vec.Set(3, 4))
	assert.Equal(t, []int32{1, 3, 5}, vec.Indices)
	assert.Equal(t, []float32{2, 4, 1}, vec.Values)
	assert.Equal(t, 3, vec.Len())

	value, ok := vec.Get(3)
	assert.True(t, ok)
	assert.Equal(t, float32(4), value)
	_, ok = vec.Get(2)
	assert.False(t, ok)
	assert.True(t, vec.Contains(5))
	assert.False(t, vec.Contains(6))

	var indices []int32
	for index := range vec.All() {
		indices = append(indices, index)
		if index == 3 {
			break
		}
	}
	assert.Equal(t, []int32{1, 3}, indices)

	assert.InDelta(t, math32.Sqrt(4+16+1), vec.Norm(), 1e-6)
	assert.InDelta(t, float32(7)/3, vec.Mean(), 1e-6)

	clone := vec.Clone()
	clone.Set(0, 9)
	assert.Equal(t, 3, vec.Len())
	assert.Equal(t, 4, clone.Len())
}

func TestSparseVectorEmpty(t *testing.T) {
	var vec SparseVector
	assert.Zero(t, vec.Norm())
	assert.Zero(t, vec.Mean())
	vec.ForIntersection(&SparseVector{Indices: []int32{1}, Values: []float32{1}}, func(int32, float32, float32) {
		t.Fatal("empty intersection expected")
	})
}

type intersection struct {
	index int32
	a, b  float32
}

func collectIntersection(a, b *SparseVector) []intersection {
	var result []intersection
	a.ForIntersection(b, func(index int32, x, y float32) {
		result = append(result, intersection{index, x, y})
	})
	return result
}

func TestForIntersection(t *testing.T) {
	a := SparseVector{Indices: []int32{1, 3, 5, 7}, Values: []float32{1, 3, 5, 7}}
	b := SparseVector{Indices: []int32{2, 3, 4, 7, 8}, Values: []float32{20, 30, 40, 70, 80}}
	assert.Equal(t, []intersection{{3, 3, 30}, {7, 7, 70}}, collectIntersection(&a, &b))
	assert.Equal(t, []intersection{{3, 30, 3}, {7, 70, 7}}, collectIntersection(&b, &a))
}

func TestForIntersectionGallop(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	for trial := 0; trial < 20; trial++ {
		var long, short SparseVector
		for i := int32(0); i < 1000; i++ {
			if rng.Intn(2) == 0 {
				long.Set(i, float32(i))
			}
		}
		for i := 0; i < 10; i++ {
			index := int32(rng.Intn(1100))
			short.Set(index, -float32(index))
		}
		// brute force expectation
		var expected []intersection
		for i, index := range short.Indices {
			if value, ok := long.Get(index); ok {
				expected = append(expected, intersection{index, short.Values[i], value})
			}
		}
		assert.Equal(t, expected, collectIntersection(&short, &long))
		// swapped arguments keep the argument order of values
		var swapped []intersection
		for _, e := range expected {
			swapped = append(swapped, intersection{e.index, e.b, e.a})
		}
		assert.Equal(t, swapped, collectIntersection(&long, &short))
	}
}
