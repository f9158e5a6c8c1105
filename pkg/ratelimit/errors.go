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

package ratelimit

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrRateLimited is the sentinel wrapped by every LimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmptyIdentifier is returned when an identifier is empty.
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")
)

// LimitError carries a denied decision through error-shaped call paths such
// as streaming pipelines and service interfaces. Consume itself never
// returns it; callers wrap denials when their signature demands an error.
type LimitError struct {
	// Bucket names the traffic class the denial belongs to, e.g. "chat".
	Bucket string

	// Decision is the denied decision.
	Decision Decision
}

// Error returns a human-readable denial message with the retry hint.
func (e *LimitError) Error() string {
	if e.Bucket == "" {
		return fmt.Sprintf("rate limited: retry in %ds", e.Decision.RetryAfterSeconds())
	}
	return fmt.Sprintf("rate limited on %s: retry in %ds", e.Bucket, e.Decision.RetryAfterSeconds())
}

// Unwrap makes errors.Is(err, ErrRateLimited) match.
func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// NewLimitError wraps a denied decision as an error.
func NewLimitError(bucket string, decision Decision) *LimitError {
	return &LimitError{
		Bucket:   bucket,
		Decision: decision,
	}
}

// IsLimitError checks whether an error stems from a rate-limit denial.
func IsLimitError(err error) bool {
	if err == nil {
		return false
	}
	var le *LimitError
	if errors.As(err, &le) {
		return true
	}
	return errors.Is(err, ErrRateLimited)
}

// GetLimitDecision extracts the denied decision from a rate-limit error.
// Returns a zero Decision and false if the error is not a LimitError.
func GetLimitDecision(err error) (Decision, bool) {
	if err == nil {
		return Decision{}, false
	}
	var le *LimitError
	if errors.As(err, &le) {
		return le.Decision, true
	}
	return Decision{}, false
}
