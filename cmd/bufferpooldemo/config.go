// Copyright 2022 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/BurntSushi/toml"

	"github.com/corvusdb/corvus/pkg/logutil"
	"github.com/corvusdb/corvus/pkg/storage/buffer"
)

// Config is what a demo deployment loads from its toml file: the pool's
// own tuning plus the shared logger configuration, exactly the way
// mo-service loads its own [log] table alongside each service's config.
type Config struct {
	Pool buffer.Config     `toml:"buffer-pool"`
	Log  logutil.LogConfig `toml:"log"`

	// SecondLevelCacheBytes bounds the fifocache.DataCache sitting
	// behind the pool; the loader stores each block it generates here
	// and looks here first before regenerating a block on reload.
	SecondLevelCacheBytes int64 `toml:"second-level-cache-bytes"`

	// Workers and Blocks size the simulated workload.
	Workers int `toml:"workers"`
	Blocks  int `toml:"blocks"`
}

func defaultConfig() Config {
	return Config{
		Pool: buffer.Config{
			MaximumMemory: 64 << 20,
		},
		Log: logutil.LogConfig{
			Level:  "info",
			Format: "console",
		},
		SecondLevelCacheBytes: 16 << 20,
		Workers:               4,
		Blocks:                256,
	}
}

func parseConfigFromFile(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
