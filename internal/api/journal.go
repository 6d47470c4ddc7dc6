package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/ferrobot-core/internal/journal"
)

// parseIntParam reads a non-negative integer query parameter. Missing
// values yield def.
func parseIntParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// journalFilter builds a filter from the limit, offset and source query
// parameters. It writes the error response and returns false when one is
// invalid.
func journalFilter(w http.ResponseWriter, r *http.Request) (journal.Filter, bool) {
	limit, ok := parseIntParam(r, "limit", 0)
	if !ok {
		badRequest(w, r, "limit must be a non-negative integer")
		return journal.Filter{}, false
	}
	offset, ok := parseIntParam(r, "offset", 0)
	if !ok {
		badRequest(w, r, "offset must be a non-negative integer")
		return journal.Filter{}, false
	}

	filter := journal.Filter{Limit: limit, Offset: offset}
	switch source := journal.Source(r.URL.Query().Get("source")); source {
	case "", journal.SourceQueued, journal.SourceSync:
		filter.Source = source
	default:
		badRequest(w, r, "source must be queued or sync")
		return journal.Filter{}, false
	}
	return filter, true
}

// handleListJournal returns journaled commands, most recent first.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		unavailable(w, r, "command journal is disabled")
		return
	}
	filter, ok := journalFilter(w, r)
	if !ok {
		return
	}
	s.writeJournal(w, r, filter)
}

// handleDeviceJournal returns journaled commands for one device.
func (s *Server) handleDeviceJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		unavailable(w, r, "command journal is disabled")
		return
	}
	dev, ok := s.parseDevice(w, r)
	if !ok {
		return
	}
	filter, ok := journalFilter(w, r)
	if !ok {
		return
	}
	filter.Device = &dev
	s.writeJournal(w, r, filter)
}

func (s *Server) writeJournal(w http.ResponseWriter, r *http.Request, filter journal.Filter) {
	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		internalError(w, r, "failed to query journal")
		return
	}
	respond(w, http.StatusOK, result)
}

// handleListModes returns recent mode transitions.
func (s *Server) handleListModes(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		unavailable(w, r, "command journal is disabled")
		return
	}
	limit, ok := parseIntParam(r, "limit", 0)
	if !ok {
		badRequest(w, r, "limit must be a non-negative integer")
		return
	}
	modes, err := s.journal.Modes(r.Context(), limit)
	if err != nil {
		s.logger.Error("mode history query failed", "error", err)
		internalError(w, r, "failed to query mode history")
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"modes": modes,
		"count": len(modes),
	})
}
