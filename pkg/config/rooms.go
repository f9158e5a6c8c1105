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

import "fmt"

// RoomsConfig configures durable chat rooms.
//
// Example:
//
//	rooms:
//	  backend: sql
//	  database: main
//	  history_limit: 200
type RoomsConfig struct {
	// Backend: "inmemory" (lost on restart) or "sql" (durable).
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Room storage backend,enum=inmemory,enum=sql,default=inmemory"`

	// Database references a named database (sql backend).
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Named database reference (sql backend)"`

	// HistoryLimit caps how many messages a room retains.
	HistoryLimit int `yaml:"history_limit,omitempty" json:"history_limit,omitempty" jsonschema:"title=History Limit,description=Messages retained per room,default=200"`
}

// SetDefaults applies default values to RoomsConfig.
func (c *RoomsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendMemory
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 200
	}
}

// Validate checks the rooms configuration.
func (c *RoomsConfig) Validate() error {
	switch c.Backend {
	case StorageBackendMemory, StorageBackendSQL:
	default:
		return fmt.Errorf("invalid rooms backend %q (valid: inmemory, sql)", c.Backend)
	}

	if c.Backend == StorageBackendSQL && c.Database == "" {
		return fmt.Errorf("rooms backend \"sql\" requires a database reference")
	}

	if c.HistoryLimit < 0 {
		return fmt.Errorf("rooms history_limit must not be negative")
	}

	return nil
}
