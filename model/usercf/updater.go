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
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/usercf/dataset"
)

// Updater tracks users whose neighbor rows are stale.
type Updater struct {
	dirty mapset.Set[int32]
}

func NewUpdater() *Updater {
	return &Updater{dirty: mapset.NewSet[int32]()}
}

// Mark marks touched users and every user sharing an item with them. A
// similarity can only change if one of its two rows changed, and a pair
// without a common item stays unrelated, so no other row can go stale.
// Columns are read after the insert, which covers newly shared items.
func (u *Updater) Mark(store *dataset.Store, touched []int32) {
	for _, user := range touched {
		u.dirty.Add(user)
		store.UserRow(user).ForEach(func(itemIndex int32, _ float32) {
			u.dirty.Append(store.ItemColumn(itemIndex).Indices...)
		})
	}
}

// Users returns dirty users in ascending order.
func (u *Updater) Users() []int32 {
	users := u.dirty.ToSlice()
	slices.Sort(users)
	return users
}

func (u *Updater) Len() int {
	return u.dirty.Cardinality()
}

func (u *Updater) Clear() {
	u.dirty.Clear()
}
