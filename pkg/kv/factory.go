// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aidekit/aide/pkg/config"
)

// NewStoreFromConfig creates a Store from the traffic store configuration.
// The partition names the concern the store serves (e.g. "ratelimit") so
// that components sharing a backend never collide: SQL stores scope rows by
// partition, Redis stores fold it into the key prefix, and memory stores are
// per-instance anyway.
//
// Example config:
//
//	databases:
//	  default:
//	    driver: sqlite
//	    database: ./.aide/aide.db
//
//	traffic:
//	  store:
//	    backend: sql
//	    database: default
func NewStoreFromConfig(cfg *config.Config, pool *config.DBPool, partition string) (Store, error) {
	storeCfg := cfg.Traffic.Store

	switch storeCfg.Backend {
	case config.StorageBackendSQL:
		// DBPool is required for SQL backends
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL store backend")
		}

		dbName := storeCfg.Database
		if dbName == "" {
			return nil, fmt.Errorf("traffic.store.database is required when backend is sql")
		}

		dbCfg, ok := cfg.GetDatabase(dbName)
		if !ok {
			return nil, fmt.Errorf("database %q not found", dbName)
		}

		// Get connection from pool (shares connection with other components)
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		return NewSQLStore(db, dbCfg.Dialect(), partition)

	case config.StorageBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     storeCfg.Redis.Addr,
			Password: storeCfg.Redis.Password,
			DB:       storeCfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}

		prefix := storeCfg.Redis.Prefix
		if partition != "" {
			prefix = prefix + ":" + partition
		}

		return NewRedisStore(client, prefix)

	case config.StorageBackendMemory, "":
		return NewMemoryStore(0), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", storeCfg.Backend)
	}
}
