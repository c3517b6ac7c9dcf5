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

// Command bufferpooldemo drives a buffer.BufferPool against a
// simulated workload: a fixed number of workers repeatedly pin, read,
// and unpin a shared set of blocks. The workload charges each block with
// IncreaseUsedMemory and never calls EvictBlocks, so no block is
// unloaded while it runs. A fifocache.DataCache sits behind the pool as the
// second-level cache a real on-disk collaborator would consult before
// paying for a full reload.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/corvusdb/corvus/pkg/fileservice/fifocache"
	"github.com/corvusdb/corvus/pkg/fileservice/fscache"
	"github.com/corvusdb/corvus/pkg/logutil"
	"github.com/corvusdb/corvus/pkg/storage/buffer"
	"github.com/corvusdb/corvus/pkg/storage/tae/common"
)

var configFile = flag.String("cfg", "", "toml configuration file (optional, falls back to defaults)")

func main() {
	flag.Parse()

	cfg, err := parseConfigFromFile(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config from %s, error: %s", *configFile, err.Error()))
	}

	logutil.SetupLogger(&cfg.Log)
	logger := logutil.GetGlobalLogger()

	pool, err := buffer.NewBufferPool(cfg.Pool)
	if err != nil {
		logger.Fatal("failed to construct buffer pool", common.ExceptionField(err))
	}
	defer pool.Close()

	cache := fifocache.NewDataCache(
		fscache.ConstCapacity(cfg.SecondLevelCacheBytes),
		nil, nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdownSignal(cancel)

	runWorkload(ctx, pool, cache, cfg, logger)

	logger.Info("bufferpooldemo exiting", common.CountField(int(pool.GetUsedMemory())))
}

func waitForShutdownSignal(cancel context.CancelFunc) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT)
	<-sigchan
	cancel()
}

// runWorkload spins up cfg.Workers goroutines, each repeatedly picking a
// random block out of a shared pool of cfg.Blocks synthetic blocks,
// pinning it (reloading through the second-level cache on a miss),
// holding it briefly, then unpinning it. It runs until ctx is canceled.
func runWorkload(ctx context.Context, pool *buffer.BufferPool, cache fscache.DataCache, cfg Config, logger *zap.Logger) {
	handles := make([]*buffer.BlockHandle, cfg.Blocks)
	for i := range handles {
		size := int64(4096 + rand.Intn(1<<16))
		loader := newSynthLoader(cache, fmt.Sprintf("block-%d", i), size)
		buf, err := loader.Reload()
		if err != nil {
			logger.Error("failed to materialise initial block", common.ExceptionField(err))
			continue
		}
		tag := buffer.MemoryTag(i % int(buffer.MemoryTagCount))
		pool.IncreaseUsedMemory(tag, size)
		handles[i] = buffer.NewBlockHandle(pool, tag, buf, loader)

		// A handle starts out already unpinned (readers == 0), but it
		// is not yet in the eviction queue: Pin then Unpin once to
		// exercise the same enqueue path every later Unpin goes
		// through, rather than reaching into pool internals.
		if _, err := handles[i].Pin(); err == nil {
			handles[i].Unpin()
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(id) + 1))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				h := handles[rng.Intn(len(handles))]
				if h == nil {
					continue
				}
				if _, err := h.Pin(); err != nil {
					logger.Error("reload failed", common.ExceptionField(err))
					continue
				}
				time.Sleep(time.Millisecond)
				h.Unpin()
			}
		}(w)
	}

	reportStats(ctx, pool, logger)
	wg.Wait()
}

func reportStats(ctx context.Context, pool *buffer.BufferPool, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("buffer pool usage", common.CountField(int(pool.GetUsedMemory())))
		}
	}
}
