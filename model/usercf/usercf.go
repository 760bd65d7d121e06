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
	"iter"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/usercf/base/log"
	"github.com/gorse-io/usercf/common/heap"
	"github.com/gorse-io/usercf/config"
	"github.com/gorse-io/usercf/dataset"
	"github.com/gorse-io/usercf/model/neighbors"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ErrModelNotFit    = errors.ConstError("model not fit")
	ErrNoNeighborData = errors.ConstError("no neighbor data")
)

var tracer = otel.Tracer("usercf")

// UserScore is a user with a similarity score.
type UserScore struct {
	UserId string
	Score  float32
}

// UserCF is a user-based collaborative filtering model. It is safe for
// concurrent use: Fit, AddInteractions and RefreshDirty are exclusive, the
// other operations share a read lock.
type UserCF struct {
	mu      sync.RWMutex
	config  config.Config
	store   *dataset.Store
	engine  *neighbors.Engine
	table   *neighbors.Table
	updater *Updater
}

// NewUserCF creates an unfit model with an empty store.
func NewUserCF(cfg *config.Config) (*UserCF, error) {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	opts, err := storeOptions(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newUserCF(cfg, dataset.NewStore(opts))
}

func newUserCF(cfg *config.Config, store *dataset.Store) (*UserCF, error) {
	metric, err := neighbors.ParseMetric(cfg.Neighbors.Metric)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &UserCF{
		config: *cfg,
		store:  store,
		engine: neighbors.NewEngine(store, neighbors.Options{
			K:             cfg.Neighbors.K,
			MinSimilarity: cfg.Neighbors.MinSimilarity,
			MinCommon:     cfg.Neighbors.MinCommon,
			Metric:        metric,
			Jobs:          cfg.Jobs,
		}),
		updater: NewUpdater(),
	}, nil
}

func storeOptions(cfg *config.Config) (dataset.StoreOptions, error) {
	policy := dataset.DuplicatePolicy(cfg.Data.DuplicatePolicy)
	switch policy {
	case dataset.Overwrite, dataset.Accumulate:
	default:
		return dataset.StoreOptions{}, errors.NotValidf("duplicate policy %q", cfg.Data.DuplicatePolicy)
	}
	return dataset.StoreOptions{
		DuplicatePolicy: policy,
		MaxUsers:        cfg.Data.MaxUsers,
		MaxItems:        cfg.Data.MaxItems,
		AllowNegative:   cfg.Data.AllowNegative,
	}, nil
}

func (m *UserCF) Config() config.Config {
	return m.config
}

// Store returns the interaction store. Writing to it directly is only
// allowed before Fit and while no other method runs. Later interactions
// must go through AddInteractions.
func (m *UserCF) Store() *dataset.Store {
	return m.store
}

// IsFit reports whether Fit has completed.
func (m *UserCF) IsFit() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table != nil
}

// Fit builds neighbors of every user from scratch and clears dirty users.
// A failed fit keeps the previous state.
func (m *UserCF) Fit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, span := tracer.Start(ctx, "UserCF.Fit", trace.WithAttributes(
		attribute.Int("n_users", int(m.store.CountUsers())),
		attribute.Int("n_items", int(m.store.CountItems())),
	))
	defer span.End()

	startTime := time.Now()
	pairs := m.engine.Pairs()
	table, err := m.engine.Build(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return errors.Trace(err)
	}
	m.table = table
	m.updater.Clear()

	FitSeconds.Set(time.Since(startTime).Seconds())
	NumUsers.Set(float64(m.store.CountUsers()))
	NumItems.Set(float64(m.store.CountItems()))
	ScoredPairsTotal.Add(float64(m.engine.Pairs() - pairs))
	DirtyUsers.Set(0)
	log.Logger().Info("fit user-based collaborative filtering",
		zap.Int32("n_users", m.store.CountUsers()),
		zap.Int32("n_items", m.store.CountItems()),
		zap.String("metric", m.config.Neighbors.Metric),
		zap.Int("k", m.config.Neighbors.K),
		zap.Duration("used_time", time.Since(startTime)))
	return nil
}

// AddInteractions inserts a batch of interactions. The batch is applied
// atomically: on error neither the store nor the dirty users change. After
// Fit, affected users are marked dirty and keep serving their previous
// neighbors until RefreshDirty.
func (m *UserCF) AddInteractions(batch []dataset.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched, err := m.store.InsertBatch(batch)
	if err != nil {
		return errors.Trace(err)
	}
	InsertedInteractionsTotal.Add(float64(len(batch)))
	NumUsers.Set(float64(m.store.CountUsers()))
	NumItems.Set(float64(m.store.CountItems()))
	if m.table == nil {
		return nil
	}
	m.table.Grow(m.store.CountUsers())
	m.updater.Mark(m.store, touched)
	DirtyUsers.Set(float64(m.updater.Len()))
	log.Logger().Debug("add interactions",
		zap.Int("n_interactions", len(batch)),
		zap.Int("n_touched_users", len(touched)),
		zap.Int("n_dirty_users", m.updater.Len()))
	return nil
}

// DirtyUsers returns the number of users waiting for refresh.
func (m *UserCF) DirtyUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updater.Len()
}

// RefreshDirty recomputes neighbors of dirty users and returns how many
// were refreshed. If it fails, the dirty users stay dirty.
func (m *UserCF) RefreshDirty(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table == nil {
		return 0, errors.Trace(ErrModelNotFit)
	}
	users := m.updater.Users()
	if len(users) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "UserCF.RefreshDirty", trace.WithAttributes(
		attribute.Int("n_dirty_users", len(users)),
	))
	defer span.End()

	startTime := time.Now()
	pairs := m.engine.Pairs()
	if err := m.engine.Refresh(ctx, m.table, users); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return 0, errors.Trace(err)
	}
	m.updater.Clear()

	RefreshSeconds.Set(time.Since(startTime).Seconds())
	RefreshedUsersTotal.Add(float64(len(users)))
	ScoredPairsTotal.Add(float64(m.engine.Pairs() - pairs))
	DirtyUsers.Set(0)
	log.Logger().Info("refresh dirty neighbors",
		zap.Int("n_users", len(users)),
		zap.Duration("used_time", time.Since(startTime)))
	return len(users), nil
}

// Predict scores an item for a user by the similarity-weighted mean of the
// weights given by neighbors who interacted with the item.
func (m *UserCF) Predict(userId, itemId string) (float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.table == nil {
		return 0, errors.Trace(ErrModelNotFit)
	}
	userIndex, ok := m.store.UserIndex().Lookup(userId)
	if !ok {
		return 0, errors.Annotatef(dataset.ErrUnknownUser, "user %q", userId)
	}
	itemIndex, ok := m.store.ItemIndex().Lookup(itemId)
	if !ok {
		return 0, errors.Annotatef(dataset.ErrUnknownItem, "item %q", itemId)
	}
	var sum, norm float32
	for _, neighbor := range m.table.Get(userIndex) {
		if weight, ok := m.store.UserRow(neighbor.Index).Get(itemIndex); ok {
			sum += neighbor.Score * weight
			norm += math32.Abs(neighbor.Score)
		}
	}
	if norm == 0 {
		return 0, errors.Annotatef(ErrNoNeighborData, "user %q, item %q", userId, itemId)
	}
	return sum / norm, nil
}

// Recommend returns the top n items for a user by predicted score, ties
// broken by lower item index. Items no neighbor interacted with are absent.
// Arguments are checked eagerly while scoring runs on iteration, so each
// iteration reflects the model at that time.
func (m *UserCF) Recommend(userId string, n int, excludeSeen bool) (iter.Seq2[string, float32], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.table == nil {
		return nil, errors.Trace(ErrModelNotFit)
	}
	userIndex, ok := m.store.UserIndex().Lookup(userId)
	if !ok {
		return nil, errors.Annotatef(dataset.ErrUnknownUser, "user %q", userId)
	}
	if n < 0 {
		return nil, errors.NotValidf("n = %d", n)
	}
	return func(yield func(string, float32) bool) {
		for _, elem := range m.recommend(userIndex, n, excludeSeen) {
			itemId, _ := m.itemId(elem.Value)
			if !yield(itemId, elem.Weight) {
				return
			}
		}
	}, nil
}

type aggregate struct {
	sum  float32
	norm float32
}

func (m *UserCF) recommend(userIndex int32, n int, excludeSeen bool) []heap.Elem[int32, float32] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var seen *bitset.BitSet
	if excludeSeen {
		seen = bitset.New(uint(m.store.CountItems()))
		m.store.UserRow(userIndex).ForEach(func(itemIndex int32, _ float32) {
			seen.Set(uint(itemIndex))
		})
	}
	scores := make(map[int32]*aggregate)
	for _, neighbor := range m.table.Get(userIndex) {
		m.store.UserRow(neighbor.Index).ForEach(func(itemIndex int32, weight float32) {
			if seen != nil && seen.Test(uint(itemIndex)) {
				return
			}
			a, ok := scores[itemIndex]
			if !ok {
				a = &aggregate{}
				scores[itemIndex] = a
			}
			a.sum += neighbor.Score * weight
			a.norm += math32.Abs(neighbor.Score)
		})
	}
	filter := heap.NewTopKFilter[int32, float32](n)
	for itemIndex, a := range scores {
		if a.norm > 0 {
			filter.Push(itemIndex, a.sum/a.norm)
		}
	}
	return filter.PopAll()
}

func (m *UserCF) itemId(itemIndex int32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.ItemIndex().String(itemIndex)
}

// Neighbors returns the current neighbors of a user.
func (m *UserCF) Neighbors(userId string) ([]UserScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.table == nil {
		return nil, errors.Trace(ErrModelNotFit)
	}
	userIndex, ok := m.store.UserIndex().Lookup(userId)
	if !ok {
		return nil, errors.Annotatef(dataset.ErrUnknownUser, "user %q", userId)
	}
	row := m.table.Get(userIndex)
	scores := make([]UserScore, len(row))
	for i, neighbor := range row {
		scores[i].UserId, _ = m.store.UserIndex().String(neighbor.Index)
		scores[i].Score = neighbor.Score
	}
	return scores, nil
}

// Similarity returns the similarity of two users on current data. It does
// not require Fit.
func (m *UserCF) Similarity(userA, userB string) (float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.store.UserIndex().Lookup(userA)
	if !ok {
		return 0, errors.Annotatef(dataset.ErrUnknownUser, "user %q", userA)
	}
	b, ok := m.store.UserIndex().Lookup(userB)
	if !ok {
		return 0, errors.Annotatef(dataset.ErrUnknownUser, "user %q", userB)
	}
	return m.engine.Similarity(a, b), nil
}
