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

// Package auth validates JWT bearer tokens on the HTTP surface.
//
// Keys come either from a JWKS endpoint (auto-refreshed, for external
// identity providers) or from a shared HMAC secret (for single-tenant
// deployments that mint their own tokens). Validated claims land in the
// request context, and the configured identity claim doubles as the
// client's throttling identity so rate limits follow the user across
// addresses.
package auth

import (
	"context"
)

// contextKey keeps context values private to this package.
type contextKey string

const claimsContextKey contextKey = "aide_auth_claims"

// Claims are the validated claims of a bearer token. The shape covers
// the common identity providers; anything not mapped to a field stays
// in Custom.
type Claims struct {
	// Subject is the token's sub claim, the stable user id.
	Subject string `json:"sub"`

	// Email is the user's email address, when the provider includes it.
	Email string `json:"email,omitempty"`

	// Role carries the user's role for authorization checks.
	Role string `json:"role,omitempty"`

	// Identity is the value of the configured identity claim, resolved
	// at validation time. It is what the traffic layer meters on.
	Identity string `json:"-"`

	// Custom holds all other private claims.
	Custom map[string]any `json:"-"`
}

// ClaimValue returns the named claim, checking mapped fields before
// Custom. Non-string custom claims come back empty.
func (c *Claims) ClaimValue(name string) string {
	switch name {
	case "sub":
		return c.Subject
	case "email":
		return c.Email
	case "role":
		return c.Role
	default:
		return c.GetStringClaim(name)
	}
}

// GetClaim retrieves a custom claim by key.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	val, ok := c.Custom[key]
	return val, ok
}

// GetStringClaim retrieves a custom claim as a string, or "" when the
// claim is absent or not a string.
func (c *Claims) GetStringClaim(key string) string {
	if val, ok := c.GetClaim(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// HasRole reports whether the user has the given role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

// HasAnyRole reports whether the user has any of the given roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// ClaimsFromContext extracts claims from a context, or nil when the
// request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
