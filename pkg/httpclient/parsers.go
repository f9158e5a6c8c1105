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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// headerInt reads an integer header, returning 0 when the header is
// absent or malformed.
func headerInt(h http.Header, name string) int {
	n, err := strconv.Atoi(h.Get(name))
	if err != nil {
		return 0
	}
	return n
}

// headerRetryAfter reads the seconds form of Retry-After. The HTTP-date
// form is not parsed; no supported provider sends it.
func headerRetryAfter(h http.Header) time.Duration {
	return time.Duration(headerInt(h, "Retry-After")) * time.Second
}

// ParseAnthropicHeaders extracts rate limit state from Anthropic API
// response headers. Reset headers carry RFC3339 timestamps; the first
// one present wins.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:            headerRetryAfter(headers),
		RequestsRemaining:     headerInt(headers, "anthropic-ratelimit-requests-remaining"),
		InputTokensRemaining:  headerInt(headers, "anthropic-ratelimit-input-tokens-remaining"),
		OutputTokensRemaining: headerInt(headers, "anthropic-ratelimit-output-tokens-remaining"),
	}

	for _, name := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if reset, err := time.Parse(time.RFC3339, headers.Get(name)); err == nil {
			info.ResetTime = reset.Unix()
			break
		}
	}

	return info
}

// ParseOpenAIHeaders extracts rate limit state from OpenAI API response
// headers. Reset headers carry Unix timestamps; the token reset wins
// over the request reset since token exhaustion is the common case.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:        headerRetryAfter(headers),
		RequestsRemaining: headerInt(headers, "x-ratelimit-remaining-requests"),
		TokensRemaining:   headerInt(headers, "x-ratelimit-remaining-tokens"),
	}

	for _, name := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if reset, err := strconv.ParseInt(headers.Get(name), 10, 64); err == nil {
			info.ResetTime = reset
			break
		}
	}

	return info
}

// ParseGeminiHeaders extracts rate limit state from Google Gemini API
// response headers. Gemini exposes only Retry-After.
func ParseGeminiHeaders(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: headerRetryAfter(headers)}
}
