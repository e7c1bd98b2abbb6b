package apihttp

import (
	"log/slog"
	"net/http"

	"github.com/PalomitasTime/cinema/internal/domain"
)

const defaultHistoryLimit = 20

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "playback history not configured")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	events, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("playback history list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list playback history")
		return
	}
	if events == nil {
		events = []domain.PlaybackEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
