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

package neighbors

import (
	"slices"

	"github.com/samber/lo"
)

// Neighbor is a similar user and its similarity score.
type Neighbor struct {
	Index int32
	Score float32
}

// Table stores the neighbors of every user. Each row is sorted by
// descending score with ties broken by lower index.
type Table struct {
	rows [][]Neighbor
}

func NewTable(n int32) *Table {
	return &Table{rows: make([][]Neighbor, n)}
}

// NewTableFromRows wraps existing rows without copying.
func NewTableFromRows(rows [][]Neighbor) *Table {
	return &Table{rows: rows}
}

func (t *Table) Len() int32 {
	return int32(len(t.rows))
}

// Get returns the neighbors of a user. The returned slice must not be modified.
func (t *Table) Get(user int32) []Neighbor {
	if user < 0 || int(user) >= len(t.rows) {
		return nil
	}
	return t.rows[user]
}

// Set replaces the neighbors of a user.
func (t *Table) Set(user int32, row []Neighbor) {
	t.rows[user] = row
}

// Grow appends empty rows until the table covers n users.
func (t *Table) Grow(n int32) {
	for int32(len(t.rows)) < n {
		t.rows = append(t.rows, nil)
	}
}

// Rows returns all rows. The returned slices must not be modified.
func (t *Table) Rows() [][]Neighbor {
	return t.rows
}

func (t *Table) Clone() *Table {
	return &Table{rows: lo.Map(t.rows, func(row []Neighbor, _ int) []Neighbor {
		return slices.Clone(row)
	})}
}

// Equal reports whether two tables hold the same neighbors and scores.
// Nil and empty rows are equal.
func (t *Table) Equal(other *Table) bool {
	if len(t.rows) != len(other.rows) {
		return false
	}
	for i := range t.rows {
		if !slices.Equal(t.rows[i], other.rows[i]) {
			return false
		}
	}
	return true
}
