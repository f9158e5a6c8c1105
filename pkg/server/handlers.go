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
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aidekit/aide/pkg/calendar"
	"github.com/aidekit/aide/pkg/crawler"
	"github.com/aidekit/aide/pkg/knowledge"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/traffic"
	"github.com/aidekit/aide/pkg/vector"
)

// maxBodyBytes caps request bodies. Seed payloads carry inline
// documents, so the cap is generous.
const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON parses the request body into dst. On failure it writes
// the 400 response itself and reports false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept in the log.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, calendar.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, calendar.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Room handlers

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	room, err := s.svcs.Rooms.CreateRoom(r.Context(), req.Title)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := s.svcs.Rooms.ListRooms(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": list})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.svcs.Rooms.GetRoom(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Rooms.DeleteRoom(r.Context(), chi.URLParam(r, "room")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	msgs, err := s.svcs.Rooms.Messages(r.Context(), chi.URLParam(r, "room"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Knowledge handlers

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	index := r.URL.Query().Get("index")
	if index == "" {
		indexes := s.knowledgeIndexes()
		if len(indexes) != 1 {
			writeError(w, http.StatusBadRequest, "index is required")
			return
		}
		index = indexes[0]
	}

	matches, err := s.svcs.Searcher.Query(r.Context(), index, query, knowledge.QueryOptions{
		TopK: queryInt(r, "top_k", 0),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if matches == nil {
		matches = []vector.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":   index,
		"query":   query,
		"matches": matches,
	})
}

// recommendation is one suggested knowledge hit, tagged with the index
// it came from so mixed results stay traceable.
type recommendation struct {
	Index string `json:"index"`
	vector.Match
}

const (
	// defaultRecommendationLimit is how many suggestions come back
	// when the caller does not ask for a count.
	defaultRecommendationLimit = 5

	// recentTopicMessages is how much conversation tail feeds the
	// topic derivation for room-based recommendations.
	recentTopicMessages = 12
)

// handleRecommendations suggests knowledge content related either to
// an explicit topic (?q=) or to a room's recent conversation (?room=).
// Every configured index is consulted and the merged matches are
// returned best first.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	roomID := r.URL.Query().Get("room")
	if query == "" && roomID == "" {
		writeError(w, http.StatusBadRequest, "q or room is required")
		return
	}

	indexes := s.knowledgeIndexes()
	if len(indexes) == 0 {
		writeError(w, http.StatusBadRequest, "no knowledge indexes configured")
		return
	}

	if query == "" {
		msgs, err := s.svcs.Rooms.Messages(r.Context(), roomID, recentTopicMessages)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		query = topicFromMessages(msgs)
		if query == "" {
			writeJSON(w, http.StatusOK, map[string]any{"recommendations": []recommendation{}})
			return
		}
	}

	limit := queryInt(r, "limit", 0)
	if limit <= 0 {
		limit = defaultRecommendationLimit
	}

	recs := make([]recommendation, 0, limit*len(indexes))
	for _, index := range indexes {
		matches, err := s.svcs.Searcher.Query(r.Context(), index, query, knowledge.QueryOptions{TopK: limit})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		for _, m := range matches {
			recs = append(recs, recommendation{Index: index, Match: m})
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

// topicFromMessages distills a search query from the tail of a
// conversation. User turns carry the intent; assistant prose would
// drown it.
func topicFromMessages(msgs []rooms.Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Role == string(llms.RoleUser) && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "\n")
}

func (s *Server) knowledgeIndexes() []string {
	return s.cfg.Chat.KnowledgeIndexes
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index     string               `json:"index"`
		Directory string               `json:"directory,omitempty"`
		Documents []knowledge.Document `json:"documents,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Index) == "" {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	if (req.Directory == "") == (len(req.Documents) == 0) {
		writeError(w, http.StatusBadRequest, "exactly one of directory or documents is required")
		return
	}

	// Seeding is expensive enough that the quota check runs after
	// validation, so a malformed request burns no budget.
	decision, err := s.svcs.Shaper.Allow(r.Context(), bucketSeed, s.identify(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return
	}
	if !decision.Allowed {
		traffic.WriteDenied(w, bucketSeed, decision)
		return
	}
	traffic.SetRateLimitHeaders(w, decision)

	var result *knowledge.SeedResult
	if req.Directory != "" {
		result, err = s.svcs.Seeder.SeedDirectory(r.Context(), req.Index, req.Directory)
	} else {
		result, err = s.svcs.Seeder.SeedDocuments(r.Context(), req.Index, req.Documents)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Follow bool   `json:"follow_links,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "url must be absolute http or https")
		return
	}

	var pages []*crawler.Page
	if req.Follow {
		pages, err = s.svcs.Crawler.Crawl(r.Context(), req.URL)
	} else {
		var page *crawler.Page
		page, err = s.svcs.Crawler.Fetch(r.Context(), req.URL)
		if page != nil {
			pages = []*crawler.Page{page}
		}
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "crawl failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": pages,
		"count": len(pages),
	})
}

// Calendar handlers

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var event calendar.Event
	if !decodeJSON(w, r, &event) {
		return
	}
	created, err := s.svcs.Calendar.Create(r.Context(), event)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var opts calendar.ListOptions
	var err error
	if opts.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	opts.Limit = queryInt(r, "limit", 0)

	events, err := s.svcs.Calendar.List(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*calendar.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.svcs.Calendar.Get(r.Context(), chi.URLParam(r, "event"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var event calendar.Event
	if !decodeJSON(w, r, &event) {
		return
	}
	updated, err := s.svcs.Calendar.Update(r.Context(), chi.URLParam(r, "event"), event)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svcs.Calendar.Delete(r.Context(), chi.URLParam(r, "event")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryTime parses an RFC 3339 query parameter, zero when absent.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
