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
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the engine.
type Config struct {
	Neighbors NeighborsConfig `mapstructure:"neighbors"`
	Data      DataConfig      `mapstructure:"data"`
	Jobs      int             `mapstructure:"jobs" validate:"gt=0"`
}

// NeighborsConfig controls similarity search.
type NeighborsConfig struct {
	K             int     `mapstructure:"k" validate:"gt=0"`
	MinSimilarity float32 `mapstructure:"min_similarity" validate:"gte=0,lte=1"`
	MinCommon     int     `mapstructure:"min_common" validate:"gte=0"`
	Metric        string  `mapstructure:"metric" validate:"oneof=cosine jaccard pearson"`
}

// DataConfig controls the interaction store.
type DataConfig struct {
	DuplicatePolicy string `mapstructure:"duplicate_policy" validate:"oneof=overwrite accumulate"`
	MaxUsers        int    `mapstructure:"max_users" validate:"gte=0"`
	MaxItems        int    `mapstructure:"max_items" validate:"gte=0"`
	AllowNegative   bool   `mapstructure:"allow_negative"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Neighbors: NeighborsConfig{
			K:             20,
			MinSimilarity: 0,
			MinCommon:     1,
			Metric:        "cosine",
		},
		Data: DataConfig{
			DuplicatePolicy: "overwrite",
		},
		Jobs: 1,
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [neighbors]
	v.SetDefault("neighbors.k", defaultConfig.Neighbors.K)
	v.SetDefault("neighbors.min_similarity", defaultConfig.Neighbors.MinSimilarity)
	v.SetDefault("neighbors.min_common", defaultConfig.Neighbors.MinCommon)
	v.SetDefault("neighbors.metric", defaultConfig.Neighbors.Metric)
	// [data]
	v.SetDefault("data.duplicate_policy", defaultConfig.Data.DuplicatePolicy)
	v.SetDefault("data.max_users", defaultConfig.Data.MaxUsers)
	v.SetDefault("data.max_items", defaultConfig.Data.MaxItems)
	v.SetDefault("data.allow_negative", defaultConfig.Data.AllowNegative)
	v.SetDefault("jobs", defaultConfig.Jobs)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"neighbors.k", "USERCF_K"},
	{"neighbors.min_similarity", "USERCF_MIN_SIMILARITY"},
	{"neighbors.min_common", "USERCF_MIN_COMMON"},
	{"neighbors.metric", "USERCF_METRIC"},
	{"data.duplicate_policy", "USERCF_DUPLICATE_POLICY"},
	{"data.max_users", "USERCF_MAX_USERS"},
	{"data.max_items", "USERCF_MAX_ITEMS"},
	{"jobs", "USERCF_JOBS"},
}

// LoadConfig loads configuration from a TOML file. Environment variables
// override the file, and the file overrides defaults. An empty path loads
// defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	// bind environment bindings
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		// check if file exist
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Trace(err)
		}
		// load config file
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	// unmarshal config file
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	// validate config file
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Setting is a configuration value addressed by its dotted key.
type Setting struct {
	Key   string
	Value any
}

// Settings lists every configuration value sorted by key, using the same
// keys as the TOML file.
func (c *Config) Settings() ([]Setting, error) {
	var configMap map[string]any
	if err := mapstructure.Decode(c, &configMap); err != nil {
		return nil, errors.Trace(err)
	}
	var settings []Setting
	flatten("", configMap, &settings)
	slices.SortFunc(settings, func(a, b Setting) int {
		return strings.Compare(a.Key, b.Key)
	})
	return settings, nil
}

func flatten(prefix string, m map[string]any, settings *[]Setting) {
	for key, value := range m {
		if child, ok := value.(map[string]any); ok {
			flatten(prefix+key+".", child, settings)
		} else {
			*settings = append(*settings, Setting{Key: prefix + key, Value: value})
		}
	}
}
