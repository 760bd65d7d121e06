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
	"encoding/binary"
	"io"
	"slices"
	"time"

	"github.com/gorse-io/usercf/base/encoding"
	"github.com/gorse-io/usercf/config"
	"github.com/gorse-io/usercf/dataset"
	"github.com/gorse-io/usercf/model/neighbors"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Snapshot is the exported state of a model. Neighbors is nil for an unfit
// model.
type Snapshot struct {
	Config     config.Config
	UserIds    []string
	ItemIds    []string
	Rows       []dataset.SparseVector
	LastActive []time.Time
	Neighbors  [][]neighbors.Neighbor
	Dirty      []int32
}

// Snapshot copies the model state.
func (m *UserCF) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := &Snapshot{
		Config:     m.config,
		UserIds:    m.store.UserIndex().Strings(),
		ItemIds:    m.store.ItemIndex().Strings(),
		Rows:       make([]dataset.SparseVector, m.store.CountUsers()),
		LastActive: make([]time.Time, m.store.CountUsers()),
		Dirty:      m.updater.Users(),
	}
	for userIndex := range snapshot.Rows {
		snapshot.Rows[userIndex] = m.store.UserRow(int32(userIndex)).Clone()
		snapshot.LastActive[userIndex], _ = m.store.LastActive(snapshot.UserIds[userIndex])
	}
	if m.table != nil {
		snapshot.Neighbors = m.table.Clone().Rows()
	}
	return snapshot
}

// FromSnapshot restores a model. Indices are preserved, so the restored
// model breaks ties exactly like the original.
func FromSnapshot(snapshot *Snapshot) (*UserCF, error) {
	cfg := snapshot.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	opts, err := storeOptions(&cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := dataset.RestoreStore(opts, snapshot.UserIds, snapshot.ItemIds, snapshot.Rows, snapshot.LastActive)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m, err := newUserCF(&cfg, store)
	if err != nil {
		return nil, errors.Trace(err)
	}
	nUsers := store.CountUsers()
	inRange := func(user int32) bool { return user >= 0 && user < nUsers }
	if snapshot.Neighbors != nil {
		if len(snapshot.Neighbors) != int(nUsers) {
			return nil, errors.Errorf("%d neighbor rows for %d users", len(snapshot.Neighbors), nUsers)
		}
		for userIndex, row := range snapshot.Neighbors {
			if !lo.EveryBy(row, func(neighbor neighbors.Neighbor) bool { return inRange(neighbor.Index) }) {
				return nil, errors.Errorf("neighbors of user %d are out of range", userIndex)
			}
		}
		m.table = neighbors.NewTableFromRows(lo.Map(snapshot.Neighbors, func(row []neighbors.Neighbor, _ int) []neighbors.Neighbor {
			return slices.Clone(row)
		}))
	}
	if !lo.EveryBy(snapshot.Dirty, inRange) {
		return nil, errors.New("dirty users are out of range")
	}
	m.updater.dirty.Append(snapshot.Dirty...)
	return m, nil
}

// Marshal writes the model state to a byte stream.
func (m *UserCF) Marshal(w io.Writer) error {
	snapshot := m.Snapshot()
	// write config
	if err := encoding.WriteGob(w, snapshot.Config); err != nil {
		return errors.Trace(err)
	}
	// write ids
	for _, ids := range [][]string{snapshot.UserIds, snapshot.ItemIds} {
		if err := binary.Write(w, binary.LittleEndian, int32(len(ids))); err != nil {
			return errors.Trace(err)
		}
		for _, id := range ids {
			if err := encoding.WriteString(w, id); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// write rows
	for _, row := range snapshot.Rows {
		if err := encoding.WriteSlice(w, row.Indices); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteSlice(w, row.Values); err != nil {
			return errors.Trace(err)
		}
	}
	if err := encoding.WriteGob(w, snapshot.LastActive); err != nil {
		return errors.Trace(err)
	}
	// write neighbors
	if err := binary.Write(w, binary.LittleEndian, snapshot.Neighbors != nil); err != nil {
		return errors.Trace(err)
	}
	for _, row := range snapshot.Neighbors {
		indices := lo.Map(row, func(neighbor neighbors.Neighbor, _ int) int32 { return neighbor.Index })
		scores := lo.Map(row, func(neighbor neighbors.Neighbor, _ int) float32 { return neighbor.Score })
		if err := encoding.WriteSlice(w, indices); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteSlice(w, scores); err != nil {
			return errors.Trace(err)
		}
	}
	// write dirty users
	return errors.Trace(encoding.WriteSlice(w, snapshot.Dirty))
}

// Unmarshal reads a model written by Marshal.
func Unmarshal(r io.Reader) (*UserCF, error) {
	var snapshot Snapshot
	// read config
	if err := encoding.ReadGob(r, &snapshot.Config); err != nil {
		return nil, errors.Trace(err)
	}
	// read ids
	for _, ids := range []*[]string{&snapshot.UserIds, &snapshot.ItemIds} {
		var n int32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Trace(err)
		}
		if n < 0 {
			return nil, errors.Errorf("invalid id count %d", n)
		}
		*ids = make([]string, 0, min(n, 1<<16))
		for range n {
			id, err := encoding.ReadString(r)
			if err != nil {
				return nil, errors.Trace(err)
			}
			*ids = append(*ids, id)
		}
	}
	// read rows
	snapshot.Rows = make([]dataset.SparseVector, len(snapshot.UserIds))
	for i := range snapshot.Rows {
		indices, err := encoding.ReadSlice[int32](r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		values, err := encoding.ReadSlice[float32](r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		snapshot.Rows[i] = dataset.SparseVector{Indices: indices, Values: values}
	}
	if err := encoding.ReadGob(r, &snapshot.LastActive); err != nil {
		return nil, errors.Trace(err)
	}
	// read neighbors
	var fit bool
	if err := binary.Read(r, binary.LittleEndian, &fit); err != nil {
		return nil, errors.Trace(err)
	}
	if fit {
		snapshot.Neighbors = make([][]neighbors.Neighbor, len(snapshot.UserIds))
		for i := range snapshot.Neighbors {
			indices, err := encoding.ReadSlice[int32](r)
			if err != nil {
				return nil, errors.Trace(err)
			}
			scores, err := encoding.ReadSlice[float32](r)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if len(indices) != len(scores) {
				return nil, errors.Errorf("neighbors of user %d have %d indices and %d scores", i, len(indices), len(scores))
			}
			if len(indices) > 0 {
				snapshot.Neighbors[i] = make([]neighbors.Neighbor, len(indices))
				for j := range indices {
					snapshot.Neighbors[i][j] = neighbors.Neighbor{Index: indices[j], Score: scores[j]}
				}
			}
		}
	}
	// read dirty users
	dirty, err := encoding.ReadSlice[int32](r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	snapshot.Dirty = dirty
	return FromSnapshot(&snapshot)
}
