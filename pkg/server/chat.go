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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aidekit/aide/pkg/chat"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/rooms"
)

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat runs one conversation turn. The response is a server-sent
// event stream unless the client asks for JSON or streaming is switched
// off in the configuration.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if s.streamRequested(r) {
		s.streamChat(w, r, roomID, req.Message)
		return
	}

	reply, err := s.svcs.Chat.Turn(r.Context(), roomID, req.Message)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// streamRequested decides between SSE and JSON for a chat turn. An
// explicit Accept header wins; otherwise the configured default holds.
func (s *Server) streamRequested(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return false
	}
	if strings.Contains(accept, "text/event-stream") {
		return true
	}
	return config.BoolValue(s.cfg.Chat.Stream, true)
}

func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	var denial *chat.Denial
	switch {
	case errors.As(err, &denial):
		w.Header().Set("Retry-After", strconv.Itoa(denial.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "rate limit exceeded",
			"bucket":     denial.Bucket,
			"retryAfter": denial.RetryAfter,
			"blocked":    denial.Blocked,
		})
	case errors.Is(err, rooms.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	default:
		s.logger.Error("Chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// streamChat relays completion chunks as server-sent events. Throttle
// denials and unknown rooms surface before any stream bytes go out, so
// they stay ordinary HTTP errors the client can decode.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, roomID, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := s.svcs.Chat.StreamTurn(r.Context(), roomID, message)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		switch chunk.Type {
		case llms.ChunkText:
			sendSSE(w, flusher, "message", map[string]string{"delta": chunk.Text})
		case llms.ChunkError:
			msg := "stream failed"
			if chunk.Error != nil {
				msg = chunk.Error.Error()
			}
			sendSSE(w, flusher, "error", map[string]any{
				"error": map[string]string{"message": msg},
			})
		case llms.ChunkDone:
			sendSSE(w, flusher, "done", map[string]int{"tokens": chunk.Tokens})
		}
	}
}

// sendSSE writes a single event and pushes it to the client
// immediately.
func sendSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
