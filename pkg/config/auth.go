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

// AuthConfig is the server's JWT bearer-token authentication block,
// off by default. Tokens are verified against a JWKS endpoint or a
// shared HMAC secret, and the identity claim doubles as the throttling
// identity so per-client limits follow a user across addresses.
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "aide-api"
type AuthConfig struct {
	// Enabled turns token verification on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// JWKSURL locates the JSON Web Key Set for signature checks.
	// Exactly one of JWKSURL or Secret must be set when enabled.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Secret is a shared HMAC signing secret, the single-tenant
	// alternative to JWKS. Supports ${VAR} expansion.
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`

	// Issuer is the required iss claim value.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the required aud claim value.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// UserClaim names the claim used as the client identity.
	// Default "sub".
	UserClaim string `yaml:"user_claim,omitempty" json:"user_claim,omitempty"`

	// RefreshInterval spaces out JWKS refetches. Default 15m.
	RefreshInterval Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// ExcludedPaths skip verification. Defaults to the health and
	// metrics endpoints so probes and scrapers need no tokens.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`

	// RequireAuth decides what happens to requests without a token:
	// true rejects with 401, false lets them through anonymously.
	// Defaults to true when auth is enabled.
	RequireAuth *bool `yaml:"require_auth,omitempty" json:"require_auth,omitempty"`
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.RefreshInterval.Duration() == 0 {
		c.RefreshInterval = Duration(15 * time.Minute)
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/health", "/metrics"}
	}
	if c.RequireAuth == nil && c.Enabled {
		c.RequireAuth = BoolPtr(true)
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch {
	case c.JWKSURL == "" && c.Secret == "":
		return fmt.Errorf("auth requires jwks_url or secret when enabled")
	case c.JWKSURL != "" && c.Secret != "":
		return fmt.Errorf("auth.jwks_url and auth.secret are mutually exclusive")
	}

	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}
	if c.Audience == "" {
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}
	if c.JWKSURL != "" && c.RefreshInterval.Duration() < time.Minute {
		return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
	}
	return nil
}

// IsEnabled reports whether the block is complete enough to build a
// token validator from.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && (c.JWKSURL != "" || c.Secret != "") && c.Issuer != ""
}

// IsRequireAuth resolves the tri-state RequireAuth field; unset
// follows Enabled.
func (c *AuthConfig) IsRequireAuth() bool {
	if c.RequireAuth == nil {
		return c.Enabled
	}
	return *c.RequireAuth
}
