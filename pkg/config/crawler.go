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
	"fmt"
	"time"
)

// CrawlerConfig configures web page fetching.
//
// Example:
//
//	crawler:
//	  allowed_domains: [example.com, docs.example.com]
//	  max_depth: 2
type CrawlerConfig struct {
	// UserAgent sent with every request.
	UserAgent string `yaml:"user_agent,omitempty" json:"user_agent,omitempty" jsonschema:"title=User Agent,description=Request user agent"`

	// AllowedDomains restricts which hosts may be fetched.
	// Empty allows any host.
	AllowedDomains []string `yaml:"allowed_domains,omitempty" json:"allowed_domains,omitempty" jsonschema:"title=Allowed Domains,description=Host allowlist (empty allows any)"`

	// MaxDepth limits link following from the start page.
	// 1 fetches only the start page.
	MaxDepth int `yaml:"max_depth,omitempty" json:"max_depth,omitempty" jsonschema:"title=Max Depth,description=Link depth from the start page,default=1"`

	// Parallelism caps concurrent fetches per crawl.
	Parallelism int `yaml:"parallelism,omitempty" json:"parallelism,omitempty" jsonschema:"title=Parallelism,description=Concurrent fetches per crawl,default=2"`

	// Timeout bounds a whole crawl.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Crawl timeout,default=30s"`
}

// SetDefaults applies default values to CrawlerConfig.
func (c *CrawlerConfig) SetDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "aide-crawler/1.0"
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 1
	}
	if c.Parallelism == 0 {
		c.Parallelism = 2
	}
	if c.Timeout.Duration() == 0 {
		c.Timeout = Duration(30 * time.Second)
	}
}

// Validate checks the crawler configuration.
func (c *CrawlerConfig) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("crawler max_depth must not be negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("crawler parallelism must not be negative")
	}
	return nil
}
