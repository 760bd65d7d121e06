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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "fit_seconds",
	})
	RefreshSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "refresh_seconds",
	})
	DirtyUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "dirty_users",
	})
	RefreshedUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "refreshed_users_total",
	})
	InsertedInteractionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "inserted_interactions_total",
	})
	NumUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "users",
	})
	NumItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "items",
	})
	ScoredPairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usercf",
		Subsystem: "model",
		Name:      "scored_pairs_total",
	})
)
