// Copyright 2020 gorse Project Authors
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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestUnmarshal(t *testing.T) {
	data, err := os.ReadFile("config.toml.template")
	assert.NoError(t, err)
	v := viper.New()
	v.SetConfigType("toml")
	err = v.ReadConfig(strings.NewReader(string(data)))
	assert.NoError(t, err)
	var config Config
	err = v.Unmarshal(&config)
	assert.NoError(t, err)

	// [neighbors]
	assert.Equal(t, 50, config.Neighbors.K)
	assert.Equal(t, float32(0.1), config.Neighbors.MinSimilarity)
	assert.Equal(t, 2, config.Neighbors.MinCommon)
	assert.Equal(t, "jaccard", config.Neighbors.Metric)
	// [data]
	assert.Equal(t, "accumulate", config.Data.DuplicatePolicy)
	assert.Equal(t, 100000, config.Data.MaxUsers)
	assert.Equal(t, 50000, config.Data.MaxItems)
	assert.False(t, config.Data.AllowNegative)
	assert.Equal(t, 4, config.Jobs)
	assert.NoError(t, config.Validate())
}

func TestSetDefault(t *testing.T) {
	v := viper.New()
	setDefault(v)
	v.SetConfigType("toml")
	err := v.ReadConfig(strings.NewReader(""))
	assert.NoError(t, err)
	var config Config
	err = v.Unmarshal(&config)
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), &config)
	assert.NoError(t, config.Validate())
}

type environmentVariable struct {
	key   string
	value string
}

func TestBindEnv(t *testing.T) {
	variables := []environmentVariable{
		{"USERCF_K", "7"},
		{"USERCF_MIN_SIMILARITY", "0.25"},
		{"USERCF_MIN_COMMON", "3"},
		{"USERCF_METRIC", "pearson"},
		{"USERCF_DUPLICATE_POLICY", "overwrite"},
		{"USERCF_MAX_USERS", "10"},
		{"USERCF_MAX_ITEMS", "20"},
		{"USERCF_JOBS", "8"},
	}
	for _, variable := range variables {
		t.Setenv(variable.key, variable.value)
	}

	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, 7, config.Neighbors.K)
	assert.Equal(t, float32(0.25), config.Neighbors.MinSimilarity)
	assert.Equal(t, 3, config.Neighbors.MinCommon)
	assert.Equal(t, "pearson", config.Neighbors.Metric)
	assert.Equal(t, "overwrite", config.Data.DuplicatePolicy)
	assert.Equal(t, 10, config.Data.MaxUsers)
	assert.Equal(t, 20, config.Data.MaxItems)
	assert.Equal(t, 8, config.Jobs)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)

	t.Setenv("USERCF_K", "5")
	config, err = LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, 5, config.Neighbors.K)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte("[neighbors]\nk = 0\nmetric = \"euclidean\"\n"), 0o644)
	assert.NoError(t, err)
	_, err = LoadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Neighbors.K")
	assert.Contains(t, err.Error(), "Config.Neighbors.Metric")
}

func TestSettings(t *testing.T) {
	settings, err := GetDefaultConfig().Settings()
	assert.NoError(t, err)
	assert.Equal(t, []Setting{
		{"data.allow_negative", false},
		{"data.duplicate_policy", "overwrite"},
		{"data.max_items", 0},
		{"data.max_users", 0},
		{"jobs", 1},
		{"neighbors.k", 20},
		{"neighbors.metric", "cosine"},
		{"neighbors.min_common", 1},
		{"neighbors.min_similarity", float32(0)},
	}, settings)
}
