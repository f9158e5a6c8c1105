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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/aidekit/aide/pkg/config"
)

// ErrInvalidToken wraps every token rejection, so callers can treat
// expiry, bad signatures and malformed tokens uniformly.
var ErrInvalidToken = errors.New("invalid token")

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// ValidatorConfig configures a JWTValidator. Exactly one of JWKSURL
// and Secret must be set.
type ValidatorConfig struct {
	// JWKSURL is the key set endpoint of an external identity provider.
	JWKSURL string

	// Secret is a shared HMAC signing secret (HS256).
	Secret string

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// UserClaim names the claim used as the client identity.
	// Defaults to "sub".
	UserClaim string

	// RefreshInterval is the minimum JWKS refresh interval.
	// Defaults to 15 minutes.
	RefreshInterval time.Duration
}

// JWTValidator validates tokens against a JWKS endpoint or a shared
// secret. The JWKS key set is cached and refreshed in the background
// to pick up key rotation.
type JWTValidator struct {
	jwksURL   string
	cache     *jwk.Cache
	cancel    context.CancelFunc
	secretKey jwk.Key
	issuer    string
	audience  string
	userClaim string
}

// NewJWTValidator creates a validator. With a JWKS URL it performs an
// initial fetch, so construction fails fast on an unreachable or
// malformed key set.
func NewJWTValidator(cfg ValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" && cfg.Secret == "" {
		return nil, fmt.Errorf("either a JWKS URL or a shared secret is required")
	}
	if cfg.JWKSURL != "" && cfg.Secret != "" {
		return nil, fmt.Errorf("JWKS URL and shared secret are mutually exclusive")
	}

	userClaim := cfg.UserClaim
	if userClaim == "" {
		userClaim = "sub"
	}

	v := &JWTValidator{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		userClaim: userClaim,
	}

	if cfg.Secret != "" {
		key, err := jwk.FromRaw([]byte(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("failed to build HMAC key: %w", err)
		}
		v.secretKey = key
		return v, nil
	}

	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}

	// The cache's refresh goroutine lives until Close cancels this
	// context.
	ctx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(ctx)

	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	v.jwksURL = cfg.JWKSURL
	v.cache = cache
	v.cancel = cancel
	return v, nil
}

// NewValidatorFromConfig creates a TokenValidator from server
// configuration. Returns nil when authentication is not enabled.
func NewValidatorFromConfig(cfg *config.AuthConfig) (TokenValidator, error) {
	if cfg == nil || !cfg.IsEnabled() {
		return nil, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	validator, err := NewJWTValidator(ValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Secret:          cfg.Secret,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		UserClaim:       cfg.UserClaim,
		RefreshInterval: cfg.RefreshInterval.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}
	return validator, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of
// a token and extracts its claims. Rejections wrap ErrInvalidToken.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	if v.secretKey != nil {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secretKey))
	} else {
		keyset, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			if s, ok := value.(string); ok {
				claims.Email = s
			}
		case "role":
			if s, ok := value.(string); ok {
				claims.Role = s
			}
		default:
			claims.Custom[key] = value
		}
	}

	claims.Identity = claims.ClaimValue(v.userClaim)
	if claims.Identity == "" {
		claims.Identity = claims.Subject
	}

	return claims, nil
}

// Close stops the background JWKS refresh. Shared-secret validators
// have nothing to stop.
func (v *JWTValidator) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}
