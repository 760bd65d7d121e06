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
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/usercf/base/log"
	"github.com/gorse-io/usercf/common/heap"
	"github.com/gorse-io/usercf/common/parallel"
	"github.com/gorse-io/usercf/dataset"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Options struct {
	K             int
	MinSimilarity float32
	// MinCommon is the minimum number of co-rated items of a related pair.
	MinCommon int
	Metric    Metric
	Jobs      int
}

// Engine computes user similarities and top-k neighbors over a store. The
// store must not be mutated while the engine reads it.
type Engine struct {
	store *dataset.Store
	opts  Options
	pairs atomic.Int64
}

func NewEngine(store *dataset.Store, opts Options) *Engine {
	if opts.Metric == "" {
		opts.Metric = Cosine
	}
	return &Engine{store: store, opts: opts}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Pairs returns the number of user pairs scored so far.
func (e *Engine) Pairs() int64 {
	return e.pairs.Load()
}

// Similarity returns the similarity between two users. Zero means no
// relation: no co-rated items, too few of them, or a zero norm. It never
// relates a user to itself.
func (e *Engine) Similarity(a, b int32) float32 {
	if a == b {
		return 0
	}
	rowA, rowB := e.store.UserRow(a), e.store.UserRow(b)
	switch e.opts.Metric {
	case Jaccard:
		return jaccard(rowA, rowB, e.opts.MinCommon)
	case Pearson:
		return pearson(rowA, rowB, e.store.UserMean(a), e.store.UserMean(b), e.opts.MinCommon)
	default:
		return cosine(rowA, rowB, e.store.UserNorm(a), e.store.UserNorm(b), e.opts.MinCommon)
	}
}

// candidates collects users sharing at least one item with a user. Marks are
// cleared after each use, so one instance serves a worker for a whole build.
type candidates struct {
	marks *bitset.BitSet
	users []int32
}

func newCandidates(n int32) *candidates {
	return &candidates{marks: bitset.New(uint(n))}
}

func (c *candidates) collect(store *dataset.Store, user int32) []int32 {
	c.users = c.users[:0]
	store.UserRow(user).ForEach(func(itemIndex int32, _ float32) {
		store.ItemColumn(itemIndex).ForEach(func(other int32, _ float32) {
			if other != user && !c.marks.Test(uint(other)) {
				c.marks.Set(uint(other))
				c.users = append(c.users, other)
			}
		})
	})
	for _, other := range c.users {
		c.marks.Clear(uint(other))
	}
	return c.users
}

// TopK returns the k most similar users of a user, sorted by descending
// score with ties broken by lower index. Only users co-rating an item are
// scored, and scores below the minimum similarity or not above zero are
// dropped.
func (e *Engine) TopK(user int32) []Neighbor {
	return e.topK(user, newCandidates(e.store.CountUsers()))
}

func (e *Engine) topK(user int32, c *candidates) []Neighbor {
	filter := heap.NewTopKFilter[int32, float32](e.opts.K)
	users := c.collect(e.store, user)
	for _, other := range users {
		score := e.Similarity(user, other)
		if score > 0 && score >= e.opts.MinSimilarity {
			filter.Push(other, score)
		}
	}
	e.pairs.Add(int64(len(users)))
	elems := filter.PopAll()
	if len(elems) == 0 {
		return nil
	}
	neighbors := make([]Neighbor, len(elems))
	for i, elem := range elems {
		neighbors[i] = Neighbor{Index: elem.Value, Score: elem.Weight}
	}
	return neighbors
}

// Build computes neighbors of all users.
func (e *Engine) Build(ctx context.Context) (*Table, error) {
	n := e.store.CountUsers()
	table := NewTable(n)
	startTime := time.Now()
	scratch := e.scratch(n)
	if err := parallel.Parallel(ctx, int(n), e.jobs(), func(workerId, jobId int) error {
		table.Set(int32(jobId), e.topK(int32(jobId), scratch[workerId]))
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Debug("complete building neighbors",
		zap.Int32("n_users", n),
		zap.String("metric", string(e.opts.Metric)),
		zap.Int64("n_pairs", e.pairs.Load()),
		zap.Duration("used_time", time.Since(startTime)))
	return table, nil
}

// Refresh recomputes the rows of the given users. The table grows to cover
// every user in the store. Rows are replaced only if every row is computed,
// so a cancelled refresh leaves the table as it was apart from growth.
func (e *Engine) Refresh(ctx context.Context, table *Table, users []int32) error {
	n := e.store.CountUsers()
	table.Grow(n)
	for _, user := range users {
		if user < 0 || user >= n {
			return errors.NotValidf("user index %d", user)
		}
	}
	scratch := e.scratch(n)
	rows := make([][]Neighbor, len(users))
	if err := parallel.Parallel(ctx, len(users), e.jobs(), func(workerId, jobId int) error {
		rows[jobId] = e.topK(users[jobId], scratch[workerId])
		return nil
	}); err != nil {
		return errors.Trace(err)
	}
	for i, user := range users {
		table.Set(user, rows[i])
	}
	return nil
}

func (e *Engine) jobs() int {
	return max(e.opts.Jobs, 1)
}

func (e *Engine) scratch(n int32) []*candidates {
	scratch := make([]*candidates, e.jobs())
	for i := range scratch {
		scratch[i] = newCandidates(n)
	}
	return scratch
}
