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
	"context"
)

// Consumer is the narrow interface the traffic facade and HTTP middleware
// depend on.
//
// Implementations must be safe for concurrent use.
type Consumer interface {
	// Consume spends one unit of quota and returns the decision. Denial is
	// part of the decision; errors are storage faults only.
	Consume(ctx context.Context, identifier string, policy Policy) (Decision, error)

	// Check reports what Consume would decide without spending quota.
	Check(ctx context.Context, identifier string, policy Policy) (Decision, error)

	// Reset clears all state for an identifier.
	Reset(ctx context.Context, identifier string) error
}

// Ensure interface compliance at compile time.
var _ Consumer = (*Limiter)(nil)
