// Copyright 2025 gorse Project Authors
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
	"math"
	"strings"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/usercf/common/heap"
	"github.com/juju/errors"
)

const (
	ErrUnknownUser      = errors.ConstError("unknown user")
	ErrUnknownItem      = errors.ConstError("unknown item")
	ErrInvalidWeight    = errors.ConstError("invalid weight")
	ErrInvalidId        = errors.ConstError("invalid id")
	ErrCapacityExceeded = errors.ConstError("capacity exceeded")
)

// DuplicatePolicy decides what happens when a (user, item) pair is inserted twice.
type DuplicatePolicy string

const (
	// Overwrite keeps the most recent weight.
	Overwrite DuplicatePolicy = "overwrite"
	// Accumulate adds the new weight to the stored one.
	Accumulate DuplicatePolicy = "accumulate"
)

// Interaction is a piece of user feedback on an item. A zero Timestamp
// means the time is unknown.
type Interaction struct {
	UserId    string
	ItemId    string
	Weight    float32
	Timestamp time.Time
}

type StoreOptions struct {
	DuplicatePolicy DuplicatePolicy
	// MaxUsers and MaxItems bound the index space. Zero means no limit
	// other than the int32 index range.
	MaxUsers      int
	MaxItems      int
	AllowNegative bool
}

// Store keeps the user-item interaction graph in both orientations: a
// sorted row per user and a sorted column per item. Columns let similarity
// search reach only the users that share an item.
//
// Store is not safe for concurrent mutation. Reads may run concurrently
// as long as no insert is in progress.
type Store struct {
	opts       StoreOptions
	userDict   *Dict
	itemDict   *Dict
	rows       []SparseVector
	columns    []SparseVector
	norms      []float32
	means      []float32
	lastActive []time.Time
}

func NewStore(opts StoreOptions) *Store {
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = Overwrite
	}
	return &Store{
		opts:     opts,
		userDict: NewDict(),
		itemDict: NewDict(),
	}
}

func (s *Store) Options() StoreOptions {
	return s.opts
}

func (s *Store) CountUsers() int32 {
	return s.userDict.Count()
}

func (s *Store) CountItems() int32 {
	return s.itemDict.Count()
}

func (s *Store) UserIndex() *Dict {
	return s.userDict
}

func (s *Store) ItemIndex() *Dict {
	return s.itemDict
}

// UserRow returns the row of a user index. The returned vector must not be modified.
func (s *Store) UserRow(userIndex int32) *SparseVector {
	return &s.rows[userIndex]
}

// ItemColumn returns the column of an item index. The returned vector must not be modified.
func (s *Store) ItemColumn(itemIndex int32) *SparseVector {
	return &s.columns[itemIndex]
}

// UserNorm returns the L2 norm of a user row.
func (s *Store) UserNorm(userIndex int32) float32 {
	return s.norms[userIndex]
}

// UserMean returns the mean weight of a user row.
func (s *Store) UserMean(userIndex int32) float32 {
	return s.means[userIndex]
}

func (s *Store) Row(userId string) (*SparseVector, error) {
	userIndex, ok := s.userDict.Lookup(userId)
	if !ok {
		return nil, errors.Annotatef(ErrUnknownUser, "user %q", userId)
	}
	return &s.rows[userIndex], nil
}

func (s *Store) Column(itemId string) (*SparseVector, error) {
	itemIndex, ok := s.itemDict.Lookup(itemId)
	if !ok {
		return nil, errors.Annotatef(ErrUnknownItem, "item %q", itemId)
	}
	return &s.columns[itemIndex], nil
}

// LastActive returns the newest timestamp seen for a user. It is zero if no
// interaction of the user carried a timestamp.
func (s *Store) LastActive(userId string) (time.Time, error) {
	userIndex, ok := s.userDict.Lookup(userId)
	if !ok {
		return time.Time{}, errors.Annotatef(ErrUnknownUser, "user %q", userId)
	}
	return s.lastActive[userIndex], nil
}

// CoRatedItems returns items both users interacted with, in index order.
func (s *Store) CoRatedItems(userA, userB string) (iter.Seq[string], error) {
	a, err := s.Row(userA)
	if err != nil {
		return nil, err
	}
	b, err := s.Row(userB)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		stop := false
		a.ForIntersection(b, func(index int32, _, _ float32) {
			if stop {
				return
			}
			itemId, _ := s.itemDict.String(index)
			stop = !yield(itemId)
		})
	}, nil
}

// Insert adds or updates one interaction.
func (s *Store) Insert(interaction Interaction) error {
	_, err := s.InsertBatch([]Interaction{interaction})
	return err
}

// InsertBatch validates every interaction before applying any of them, so
// a failing batch leaves the store untouched. It returns the distinct user
// indices touched by the batch in first-seen order.
func (s *Store) InsertBatch(batch []Interaction) ([]int32, error) {
	if err := s.validate(batch); err != nil {
		return nil, err
	}
	var touched []int32
	seen := make(map[int32]struct{})
	for _, interaction := range batch {
		userIndex := s.userDict.Id(interaction.UserId)
		itemIndex := s.itemDict.Id(interaction.ItemId)
		s.grow()
		row := &s.rows[userIndex]
		weight := interaction.Weight
		if s.opts.DuplicatePolicy == Accumulate {
			if prev, ok := row.Get(itemIndex); ok {
				weight += prev
			}
		}
		row.Set(itemIndex, weight)
		s.columns[itemIndex].Set(userIndex, weight)
		if interaction.Timestamp.After(s.lastActive[userIndex]) {
			s.lastActive[userIndex] = interaction.Timestamp
		}
		if _, ok := seen[userIndex]; !ok {
			seen[userIndex] = struct{}{}
			touched = append(touched, userIndex)
		}
	}
	for _, userIndex := range touched {
		s.norms[userIndex] = s.rows[userIndex].Norm()
		s.means[userIndex] = s.rows[userIndex].Mean()
	}
	return touched, nil
}

func (s *Store) validate(batch []Interaction) error {
	newUsers := make(map[string]struct{})
	newItems := make(map[string]struct{})
	sums := make(map[[2]string]float32)
	for i, interaction := range batch {
		if err := ValidateId(interaction.UserId); err != nil {
			return errors.Annotatef(err, "user of interaction %d", i)
		}
		if err := ValidateId(interaction.ItemId); err != nil {
			return errors.Annotatef(err, "item of interaction %d", i)
		}
		if err := s.validateWeight(interaction.Weight); err != nil {
			return errors.Annotatef(err, "interaction %d (%s, %s)", i, interaction.UserId, interaction.ItemId)
		}
		if s.opts.DuplicatePolicy == Accumulate {
			key := [2]string{interaction.UserId, interaction.ItemId}
			sum, ok := sums[key]
			if !ok {
				sum = s.weight(interaction.UserId, interaction.ItemId)
			}
			sum += interaction.Weight
			if math32.IsInf(sum, 0) {
				return errors.Annotatef(ErrInvalidWeight, "accumulated weight of (%s, %s) is not finite", interaction.UserId, interaction.ItemId)
			}
			sums[key] = sum
		}
		if _, ok := s.userDict.Lookup(interaction.UserId); !ok {
			newUsers[interaction.UserId] = struct{}{}
		}
		if _, ok := s.itemDict.Lookup(interaction.ItemId); !ok {
			newItems[interaction.ItemId] = struct{}{}
		}
	}
	if n := int(s.userDict.Count()) + len(newUsers); n > capacity(s.opts.MaxUsers) {
		return errors.Annotatef(ErrCapacityExceeded, "%d users exceed the limit %d", n, capacity(s.opts.MaxUsers))
	}
	if n := int(s.itemDict.Count()) + len(newItems); n > capacity(s.opts.MaxItems) {
		return errors.Annotatef(ErrCapacityExceeded, "%d items exceed the limit %d", n, capacity(s.opts.MaxItems))
	}
	return nil
}

// weight returns the stored weight of a pair, or zero if absent.
func (s *Store) weight(userId, itemId string) float32 {
	userIndex, ok := s.userDict.Lookup(userId)
	if !ok {
		return 0
	}
	itemIndex, ok := s.itemDict.Lookup(itemId)
	if !ok {
		return 0
	}
	weight, _ := s.rows[userIndex].Get(itemIndex)
	return weight
}

func (s *Store) validateWeight(weight float32) error {
	if math32.IsNaN(weight) || math32.IsInf(weight, 0) {
		return errors.Annotatef(ErrInvalidWeight, "weight %v is not finite", weight)
	}
	if weight < 0 && !s.opts.AllowNegative {
		return errors.Annotatef(ErrInvalidWeight, "weight %v is negative", weight)
	}
	return nil
}

func capacity(limit int) int {
	if limit <= 0 || limit > math.MaxInt32 {
		return math.MaxInt32
	}
	return limit
}

// grow extends per-user and per-item slices to the dictionary sizes.
func (s *Store) grow() {
	for int32(len(s.rows)) < s.userDict.Count() {
		s.rows = append(s.rows, SparseVector{})
		s.norms = append(s.norms, 0)
		s.means = append(s.means, 0)
		s.lastActive = append(s.lastActive, time.Time{})
	}
	for int32(len(s.columns)) < s.itemDict.Count() {
		s.columns = append(s.columns, SparseVector{})
	}
}

// ItemCount is an item with the number of users who interacted with it.
type ItemCount struct {
	ItemId string
	Count  int
}

// PopularItems returns the n items with the most users, ties broken by
// lower item index. It is the usual fallback when a user has no neighbour data.
func (s *Store) PopularItems(n int) []ItemCount {
	filter := heap.NewTopKFilter[int32, int](n)
	for itemIndex := range s.columns {
		filter.Push(int32(itemIndex), s.columns[itemIndex].Len())
	}
	elems := filter.PopAll()
	items := make([]ItemCount, len(elems))
	for i, elem := range elems {
		itemId, _ := s.itemDict.String(elem.Value)
		items[i] = ItemCount{ItemId: itemId, Count: elem.Weight}
	}
	return items
}

// ValidateId validates user/item id. Id cannot be empty or blank.
func ValidateId(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.Annotate(ErrInvalidId, "id cannot be empty")
	}
	return nil
}

// RestoreStore rebuilds a store from exported state. Ids keep the indices
// given by their position, which preserves every index-based tie-break.
func RestoreStore(opts StoreOptions, userIds, itemIds []string, rows []SparseVector, lastActive []time.Time) (*Store, error) {
	if len(rows) != len(userIds) {
		return nil, errors.Errorf("%d rows for %d users", len(rows), len(userIds))
	}
	s := NewStore(opts)
	for _, userId := range userIds {
		if _, ok := s.userDict.Lookup(userId); ok {
			return nil, errors.Errorf("duplicate user %q", userId)
		}
		s.userDict.Id(userId)
	}
	for _, itemId := range itemIds {
		if _, ok := s.itemDict.Lookup(itemId); ok {
			return nil, errors.Errorf("duplicate item %q", itemId)
		}
		s.itemDict.Id(itemId)
	}
	s.grow()
	for userIndex := range rows {
		row := &rows[userIndex]
		if len(row.Indices) != len(row.Values) {
			return nil, errors.Errorf("row %d has %d indices and %d values", userIndex, len(row.Indices), len(row.Values))
		}
		for i, itemIndex := range row.Indices {
			if itemIndex < 0 || itemIndex >= s.itemDict.Count() {
				return nil, errors.Errorf("row %d refers to unknown item index %d", userIndex, itemIndex)
			}
			if i > 0 && row.Indices[i-1] >= itemIndex {
				return nil, errors.Errorf("row %d is not sorted", userIndex)
			}
			if err := s.validateWeight(row.Values[i]); err != nil {
				return nil, errors.Trace(err)
			}
		}
		s.rows[userIndex] = row.Clone()
		s.norms[userIndex] = s.rows[userIndex].Norm()
		s.means[userIndex] = s.rows[userIndex].Mean()
		if userIndex < len(lastActive) {
			s.lastActive[userIndex] = lastActive[userIndex]
		}
	}
	// users are visited in ascending order, so columns stay sorted
	for userIndex := range s.rows {
		s.rows[userIndex].ForEach(func(itemIndex int32, value float32) {
			column := &s.columns[itemIndex]
			column.Indices = append(column.Indices, int32(userIndex))
			column.Values = append(column.Values, value)
		})
	}
	return s, nil
}
