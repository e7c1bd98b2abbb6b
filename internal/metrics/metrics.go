package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinema",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cinema",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinema",
		Name:      "active_sessions",
		Help:      "Number of torrent sessions held by the orchestrator.",
	})

	ConnectedViewers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinema",
		Name:      "connected_viewers",
		Help:      "Number of open signaling connections.",
	})

	FetchStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cinema",
		Name:      "fetch_starts_total",
		Help:      "Total number of torrents handed to the engine.",
	})

	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cinema",
		Name:      "fetch_duration_seconds",
		Help:      "Time from adding a torrent until its metadata is available.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	PlaybackOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinema",
		Name:      "playback_outcomes_total",
		Help:      "Total playback requests by outcome.",
	}, []string{"outcome"})

	StreamedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cinema",
		Name:      "streamed_bytes_total",
		Help:      "Total bytes written to stream responses.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinema",
		Name:      "peers_connected",
		Help:      "Active peers across all torrents.",
	})

	MemoryStorageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinema",
		Name:      "memory_storage_bytes",
		Help:      "Piece data held in memory storage.",
	})

	EngineUsefulBytesRead = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cinema",
		Name:      "engine_useful_bytes_read",
		Help:      "Useful piece data received from peers by the torrents currently held.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		ConnectedViewers,
		FetchStartsTotal,
		FetchDuration,
		PlaybackOutcomesTotal,
		StreamedBytesTotal,
		PeersConnected,
		MemoryStorageBytes,
		EngineUsefulBytesRead,
	)
}
