package apihttp

import (
	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/metrics"
)

// EmitStatistics pushes the current viewer and session counts to every
// connection. Counts are read at call time.
func (s *Server) EmitStatistics() {
	stats := s.statistics()
	metrics.ConnectedViewers.Set(float64(stats.Streamers))
	metrics.ActiveSessions.Set(float64(stats.Torrents))
	s.hub.Broadcast(msgStatistics, stats)
}

func (s *Server) statistics() domain.Statistics {
	stats := domain.Statistics{Streamers: s.hub.clientCount()}
	if s.sessions != nil {
		stats.Torrents = s.sessions.Count()
	}
	return stats
}
