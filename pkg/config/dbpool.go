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

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteDSNParams ride along on every sqlite connection: WAL keeps
// readers unblocked during writes, the busy timeout rides out short
// lock contention, and foreign keys are off in sqlite unless asked.
const sqliteDSNParams = "_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=on"

// DBPool hands out one shared *sql.DB per DSN, so services pointing at
// the same database share a connection pool instead of competing.
type DBPool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDBPool creates a new database pool manager.
func NewDBPool() *DBPool {
	return &DBPool{pools: make(map[string]*sql.DB)}
}

// Get returns the shared connection pool for the given config, opening
// it on first use.
func (p *DBPool) Get(cfg *DatabaseConfig) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DSN()
	if db, ok := p.pools[key]; ok {
		return db, nil
	}

	db, err := p.open(cfg)
	if err != nil {
		return nil, err
	}
	p.pools[key] = db
	return db, nil
}

func (p *DBPool) open(cfg *DatabaseConfig) (*sql.DB, error) {
	driver := cfg.DriverName()
	dsn := cfg.DSN()
	if driver == "sqlite3" {
		dsn = withSqliteParams(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// One connection serializes all writers, which sidesteps
		// "database is locked" and keeps a :memory: database from
		// splitting into one private copy per pooled connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}

	if lifetime := cfg.ConnMaxLifetime.Duration(); lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Debug("Opened database", "driver", driver)
	return db, nil
}

// withSqliteParams appends the sqlite connection parameters, keeping
// any the DSN already carries.
func withSqliteParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteDSNParams
	}
	return dsn + "?" + sqliteDSNParams
}

// Close closes all database connections.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", dsn, err))
		}
	}
	p.pools = make(map[string]*sql.DB)

	return errors.Join(errs...)
}
