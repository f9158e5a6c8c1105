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

package observability

import (
	"net/http"
	"time"
)

// NoopManager returns a Manager with tracing and metrics disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// NoopMetrics is a Recorder that discards every observation, for
// callers that need a Recorder while metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}
func (NoopMetrics) RecordRateLimitDecision(_, _ string)                               {}
func (NoopMetrics) RecordCacheEvent(_, _ string)                                      {}
func (NoopMetrics) RecordLLMCall(_, _ string, _ time.Duration)                        {}
func (NoopMetrics) RecordLLMTokens(_, _ string, _, _ int)                             {}
func (NoopMetrics) RecordLLMError(_, _, _ string)                                     {}
func (NoopMetrics) RecordKnowledgeSearch(_ string, _ time.Duration, _ int)            {}
func (NoopMetrics) RecordKnowledgeDocument(_, _ string)                               {}
func (NoopMetrics) RecordRoomMessage(_ string)                                        {}
func (NoopMetrics) RecordCrawlPage(_ int)                                             {}

// Handler answers 503 so a scrape of a disabled endpoint reads as
// "off" rather than an empty exposition.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
	})
}
