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

package usercf

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/gorse-io/usercf/config"
	"github.com/gorse-io/usercf/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type item struct {
	id    string
	score float32
}

func collect(seq func(func(string, float32) bool)) []item {
	var items []item
	for itemId, score := range seq {
		items = append(items, item{itemId, score})
	}
	return items
}

type UserCFTestSuite struct {
	suite.Suite
	model *UserCF
}

func (suite *UserCFTestSuite) SetupTest() {
	var err error
	suite.model, err = NewUserCF(config.GetDefaultConfig())
	suite.NoError(err)
	suite.NoError(suite.model.AddInteractions([]dataset.Interaction{
		{UserId: "1", ItemId: "A", Weight: 1},
		{UserId: "2", ItemId: "A", Weight: 1},
		{UserId: "2", ItemId: "B", Weight: 1},
		{UserId: "3", ItemId: "B", Weight: 1},
	}))
}

func (suite *UserCFTestSuite) TestNotFit() {
	suite.False(suite.model.IsFit())
	_, err := suite.model.Predict("1", "B")
	suite.True(errors.Is(err, ErrModelNotFit))
	_, err = suite.model.Recommend("1", 10, true)
	suite.True(errors.Is(err, ErrModelNotFit))
	_, err = suite.model.Neighbors("1")
	suite.True(errors.Is(err, ErrModelNotFit))
	_, err = suite.model.RefreshDirty(context.Background())
	suite.True(errors.Is(err, ErrModelNotFit))
	// interactions before fit are only loaded
	suite.Zero(suite.model.DirtyUsers())
	// similarity works on raw data
	score, err := suite.model.Similarity("1", "2")
	suite.NoError(err)
	suite.InDelta(1/math.Sqrt2, score, 1e-6)
}

func (suite *UserCFTestSuite) TestFit() {
	suite.NoError(suite.model.Fit(context.Background()))
	suite.True(suite.model.IsFit())

	neighbors, err := suite.model.Neighbors("1")
	suite.NoError(err)
	suite.Len(neighbors, 1)
	suite.Equal("2", neighbors[0].UserId)
	suite.InDelta(1/math.Sqrt2, neighbors[0].Score, 1e-6)

	neighbors, err = suite.model.Neighbors("2")
	suite.NoError(err)
	suite.Len(neighbors, 2)
	suite.Equal("1", neighbors[0].UserId)
	suite.Equal("3", neighbors[1].UserId)
	suite.Equal(neighbors[0].Score, neighbors[1].Score)

	neighbors, err = suite.model.Neighbors("3")
	suite.NoError(err)
	suite.Len(neighbors, 1)
	suite.Equal("2", neighbors[0].UserId)
	suite.Greater(neighbors[0].Score, float32(0))
	suite.InDelta(1/math.Sqrt2, neighbors[0].Score, 1e-6)

	_, err = suite.model.Neighbors("4")
	suite.True(errors.Is(err, dataset.ErrUnknownUser))
}

func (suite *UserCFTestSuite) TestPredict() {
	suite.NoError(suite.model.Fit(context.Background()))
	score, err := suite.model.Predict("1", "B")
	suite.NoError(err)
	suite.Equal(float32(1), score)
	score, err = suite.model.Predict("3", "A")
	suite.NoError(err)
	suite.Equal(float32(1), score)

	_, err = suite.model.Predict("4", "A")
	suite.True(errors.Is(err, dataset.ErrUnknownUser))
	_, err = suite.model.Predict("1", "C")
	suite.True(errors.Is(err, dataset.ErrUnknownItem))
}

func (suite *UserCFTestSuite) TestNoNeighborData() {
	suite.NoError(suite.model.AddInteractions([]dataset.Interaction{{UserId: "4", ItemId: "C", Weight: 1}}))
	suite.NoError(suite.model.Fit(context.Background()))
	_, err := suite.model.Predict("4", "A")
	suite.True(errors.Is(err, ErrNoNeighborData))
	_, err = suite.model.Predict("1", "C")
	suite.True(errors.Is(err, ErrNoNeighborData))

	items, err := suite.model.Recommend("4", 10, false)
	suite.NoError(err)
	suite.Empty(collect(items))
}

func (suite *UserCFTestSuite) TestRecommend() {
	suite.NoError(suite.model.Fit(context.Background()))
	items, err := suite.model.Recommend("1", 10, true)
	suite.NoError(err)
	suite.Equal([]item{{"B", 1}}, collect(items))

	// equal scores keep the lower item index first
	items, err = suite.model.Recommend("1", 10, false)
	suite.NoError(err)
	suite.Equal([]item{{"A", 1}, {"B", 1}}, collect(items))
	// iterating twice yields the same sequence
	suite.Equal([]item{{"A", 1}, {"B", 1}}, collect(items))

	items, err = suite.model.Recommend("1", 1, false)
	suite.NoError(err)
	suite.Equal([]item{{"A", 1}}, collect(items))

	items, err = suite.model.Recommend("1", 0, false)
	suite.NoError(err)
	suite.Empty(collect(items))

	_, err = suite.model.Recommend("1", -1, false)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = suite.model.Recommend("5", 10, false)
	suite.True(errors.Is(err, dataset.ErrUnknownUser))

	// early exit
	items, err = suite.model.Recommend("2", 10, false)
	suite.NoError(err)
	count := 0
	for range items {
		count++
		break
	}
	suite.Equal(1, count)
}

func (suite *UserCFTestSuite) TestRecommendIsLazy() {
	suite.NoError(suite.model.Fit(context.Background()))
	items, err := suite.model.Recommend("3", 10, true)
	suite.NoError(err)
	suite.NoError(suite.model.AddInteractions([]dataset.Interaction{{UserId: "2", ItemId: "C", Weight: 1}}))
	_, err = suite.model.RefreshDirty(context.Background())
	suite.NoError(err)
	suite.Equal([]string{"A", "C"}, func() []string {
		var ids []string
		for itemId := range items {
			ids = append(ids, itemId)
		}
		return ids
	}())
}

func (suite *UserCFTestSuite) TestIncrementalUpdate() {
	suite.NoError(suite.model.Fit(context.Background()))
	before, err := suite.model.Similarity("1", "2")
	suite.NoError(err)

	suite.NoError(suite.model.AddInteractions([]dataset.Interaction{{UserId: "1", ItemId: "B", Weight: 1}}))
	suite.Equal(3, suite.model.DirtyUsers())
	// stale neighbors are served until refresh
	neighbors, err := suite.model.Neighbors("1")
	suite.NoError(err)
	suite.Equal(before, neighbors[0].Score)

	n, err := suite.model.RefreshDirty(context.Background())
	suite.NoError(err)
	suite.Equal(3, n)
	suite.Zero(suite.model.DirtyUsers())
	neighbors, err = suite.model.Neighbors("1")
	suite.NoError(err)
	suite.Equal("2", neighbors[0].UserId)
	suite.InDelta(1, neighbors[0].Score, 1e-6)
	suite.GreaterOrEqual(neighbors[0].Score, before)

	// refresh without new interactions does nothing
	snapshot := suite.model.Snapshot()
	n, err = suite.model.RefreshDirty(context.Background())
	suite.NoError(err)
	suite.Zero(n)
	suite.Equal(snapshot, suite.model.Snapshot())
}

func (suite *UserCFTestSuite) TestNewUserAfterFit() {
	suite.NoError(suite.model.Fit(context.Background()))
	suite.NoError(suite.model.AddInteractions([]dataset.Interaction{{UserId: "4", ItemId: "A", Weight: 1}}))
	// known but not refreshed yet
	_, err := suite.model.Predict("4", "A")
	suite.True(errors.Is(err, ErrNoNeighborData))
	_, err = suite.model.RefreshDirty(context.Background())
	suite.NoError(err)
	score, err := suite.model.Predict("4", "B")
	suite.NoError(err)
	suite.Equal(float32(1), score)
}

func (suite *UserCFTestSuite) TestCapacityExceeded() {
	cfg := config.GetDefaultConfig()
	cfg.Data.MaxUsers = 3
	model, err := NewUserCF(cfg)
	suite.NoError(err)
	suite.NoError(model.AddInteractions([]dataset.Interaction{
		{UserId: "1", ItemId: "A", Weight: 1},
		{UserId: "2", ItemId: "A", Weight: 1},
		{UserId: "3", ItemId: "B", Weight: 1},
	}))
	suite.NoError(model.Fit(context.Background()))
	snapshot := model.Snapshot()
	err = model.AddInteractions([]dataset.Interaction{
		{UserId: "1", ItemId: "B", Weight: 1},
		{UserId: "4", ItemId: "A", Weight: 1},
	})
	suite.True(errors.Is(err, dataset.ErrCapacityExceeded))
	suite.Zero(model.DirtyUsers())
	suite.Equal(snapshot, model.Snapshot())

	err = model.AddInteractions([]dataset.Interaction{{UserId: "1", ItemId: "B", Weight: float32(math.Inf(1))}})
	suite.True(errors.Is(err, dataset.ErrInvalidWeight))
	suite.Equal(snapshot, model.Snapshot())
}

func (suite *UserCFTestSuite) TestConcurrentAccess() {
	suite.NoError(suite.model.Fit(context.Background()))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Go(func() {
			for j := 0; j < 100; j++ {
				_, _ = suite.model.Predict("1", "B")
				if items, err := suite.model.Recommend("2", 5, false); err == nil {
					collect(items)
				}
				_, _ = suite.model.Neighbors("3")
			}
		})
	}
	wg.Go(func() {
		for j := 0; j < 50; j++ {
			_ = suite.model.AddInteractions([]dataset.Interaction{{UserId: "1", ItemId: "B", Weight: float32(j + 1)}})
			_, _ = suite.model.RefreshDirty(context.Background())
		}
	})
	wg.Wait()
	score, err := suite.model.Predict("1", "B")
	suite.NoError(err)
	suite.Equal(float32(1), score)
}

func TestUserCF(t *testing.T) {
	suite.Run(t, new(UserCFTestSuite))
}

func TestNewUserCF(t *testing.T) {
	model, err := NewUserCF(nil)
	assert.NoError(t, err)
	assert.Equal(t, *config.GetDefaultConfig(), model.Config())
	assert.Equal(t, dataset.Overwrite, model.Store().Options().DuplicatePolicy)

	cfg := config.GetDefaultConfig()
	cfg.Neighbors.Metric = "euclidean"
	_, err = NewUserCF(cfg)
	assert.True(t, errors.Is(err, errors.NotValid))

	cfg = config.GetDefaultConfig()
	cfg.Data.DuplicatePolicy = "accumulate"
	cfg.Data.MaxItems = 10
	model, err = NewUserCF(cfg)
	assert.NoError(t, err)
	assert.Equal(t, dataset.StoreOptions{DuplicatePolicy: dataset.Accumulate, MaxItems: 10}, model.Store().Options())
}

func TestFitCancel(t *testing.T) {
	model, err := NewUserCF(nil)
	assert.NoError(t, err)
	assert.NoError(t, model.AddInteractions([]dataset.Interaction{{UserId: "1", ItemId: "A", Weight: 1}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, model.Fit(ctx), context.Canceled)
	assert.False(t, model.IsFit())
}
