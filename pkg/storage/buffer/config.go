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

package buffer

// Config carries the tuning constants a BufferPool needs at
// construction time. Zero values are replaced by DefaultConfig's
// values in NewBufferPool, so a toml file only needs to override what
// it cares about.
type Config struct {
	// MaximumMemory is the soft memory budget in bytes.
	MaximumMemory int64 `toml:"maximum-memory"`

	// InsertInterval is the number of eviction-queue insertions between
	// purge triggers.
	InsertInterval int64 `toml:"insert-interval"`

	// PurgeSizeMultiplier is how many nodes to purge per node inserted
	// since the last purge.
	PurgeSizeMultiplier int64 `toml:"purge-size-multiplier"`

	// EarlyOutMultiplier is the minimum queue-size/purge-size ratio
	// required to proceed with a purge.
	EarlyOutMultiplier int64 `toml:"early-out-multiplier"`

	// AliveNodeMultiplier is the alive:dead ratio threshold an
	// in-progress aggressive purge exits on.
	AliveNodeMultiplier int64 `toml:"alive-node-multiplier"`

	// QueueShards is the number of shards the eviction queue is split
	// across. More shards reduce contention between producers at the
	// cost of a less faithful FIFO order, which the pool already
	// tolerates as a hint rather than a guarantee.
	QueueShards int `toml:"queue-shards"`

	// PurgeWorkers bounds the ants pool dispatching background
	// PurgeQueue passes.
	PurgeWorkers int `toml:"purge-workers"`
}

// DefaultConfig returns the orders-of-magnitude the design calls for:
// INSERT_INTERVAL ~1024, PURGE_SIZE_MULTIPLIER ~2, EARLY_OUT_MULTIPLIER
// ~4, ALIVE_NODE_MULTIPLIER ~4.
func DefaultConfig() Config {
	return Config{
		MaximumMemory:       0,
		InsertInterval:      1024,
		PurgeSizeMultiplier: 2,
		EarlyOutMultiplier:  4,
		AliveNodeMultiplier: 4,
		QueueShards:         32,
		PurgeWorkers:        4,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.InsertInterval <= 0 {
		c.InsertInterval = d.InsertInterval
	}
	if c.PurgeSizeMultiplier <= 0 {
		c.PurgeSizeMultiplier = d.PurgeSizeMultiplier
	}
	if c.EarlyOutMultiplier <= 0 {
		c.EarlyOutMultiplier = d.EarlyOutMultiplier
	}
	if c.AliveNodeMultiplier <= 0 {
		c.AliveNodeMultiplier = d.AliveNodeMultiplier
	}
	if c.QueueShards <= 0 {
		c.QueueShards = d.QueueShards
	}
	if c.PurgeWorkers <= 0 {
		c.PurgeWorkers = d.PurgeWorkers
	}
}
