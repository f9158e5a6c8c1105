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

package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aidekit/aide/pkg/config"
)

// Middleware validates bearer tokens per the auth configuration.
//
// Paths listed in cfg.ExcludedPaths skip validation entirely. When
// require_auth is off, requests without an Authorization header
// proceed anonymously, but a token that is present must still be
// valid. Validated claims land in the request context for
// ClaimsFromContext.
func Middleware(validator TokenValidator, cfg *config.AuthConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, path := range cfg.ExcludedPaths {
		excluded[strings.TrimSuffix(path, "/")] = true
	}
	required := cfg.IsRequireAuth()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := strings.TrimSuffix(r.URL.Path, "/")
			if path == "" {
				path = "/"
			}
			if excluded[path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				writeAuthError(w, "invalid Authorization format, expected: Bearer <token>", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				writeAuthError(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole admits only users holding one of the given roles. It
// must sit after Middleware in the chain, since it reads claims from
// the request context.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !claims.HasAnyRole(roles...) {
				writeAuthError(w, "insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
