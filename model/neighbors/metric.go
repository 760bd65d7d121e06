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
	"github.com/chewxy/math32"
	"github.com/gorse-io/usercf/dataset"
	"github.com/juju/errors"
)

// Metric names a user similarity function.
type Metric string

const (
	Cosine  Metric = "cosine"
	Jaccard Metric = "jaccard"
	Pearson Metric = "pearson"
)

// ParseMetric converts a configuration string to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Cosine, Jaccard, Pearson:
		return m, nil
	}
	return "", errors.NotValidf("metric %q", s)
}

// UnmarshalText allows metrics in config files and flags.
func (m *Metric) UnmarshalText(text []byte) error {
	metric, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = metric
	return nil
}

// cosine divides the dot product over co-rated items by the norms of the
// full rows, clipped to [-1, 1]. Products are accumulated in ascending item
// order, so swapping the arguments gives the same bits.
func cosine(a, b *dataset.SparseVector, normA, normB float32, minCommon int) float32 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float32
	common := 0
	a.ForIntersection(b, func(_ int32, x, y float32) {
		dot += x * y
		common++
	})
	if common == 0 || common < minCommon {
		return 0
	}
	return max(-1, min(1, dot/(normA*normB)))
}

// jaccard measures the overlap of the two item sets, ignoring weights.
func jaccard(a, b *dataset.SparseVector, minCommon int) float32 {
	common := 0
	a.ForIntersection(b, func(int32, float32, float32) {
		common++
	})
	if common == 0 || common < minCommon {
		return 0
	}
	return float32(common) / float32(a.Len()+b.Len()-common)
}

// pearson correlates co-rated weights centred by each user's mean over the
// whole row. The result is clipped to [-1, 1].
func pearson(a, b *dataset.SparseVector, meanA, meanB float32, minCommon int) float32 {
	var num, denA, denB float32
	common := 0
	a.ForIntersection(b, func(_ int32, x, y float32) {
		dx, dy := x-meanA, y-meanB
		num += dx * dy
		denA += dx * dx
		denB += dy * dy
		common++
	})
	if common == 0 || common < minCommon || denA == 0 || denB == 0 {
		return 0
	}
	score := num / math32.Sqrt(denA*denB)
	return max(-1, min(1, score))
}
