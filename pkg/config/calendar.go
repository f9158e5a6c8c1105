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

// CalendarConfig configures the calendar service.
//
// Example:
//
//	calendar:
//	  enabled: true
//	  database: main
type CalendarConfig struct {
	// Enabled turns the calendar endpoints on.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Enable calendar endpoints,default=false"`

	// Database references a named database for event storage.
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Named database reference"`

	// ListLimit caps how many events one list query returns.
	ListLimit int `yaml:"list_limit,omitempty" json:"list_limit,omitempty" jsonschema:"title=List Limit,description=Max events per list query,default=100"`
}

// SetDefaults applies default values to CalendarConfig.
func (c *CalendarConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.ListLimit == 0 {
		c.ListLimit = 100
	}
}

// Validate checks the calendar configuration.
func (c *CalendarConfig) Validate() error {
	if BoolValue(c.Enabled, false) && c.Database == "" {
		return fmt.Errorf("calendar requires a database reference when enabled")
	}
	if c.ListLimit < 0 {
		return fmt.Errorf("calendar list_limit must not be negative")
	}
	return nil
}
