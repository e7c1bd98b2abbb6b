package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

type StreamTorrentUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) (usecase.StreamResult, error)
}

type ResolvePlaybackUseCase interface {
	Execute(ctx context.Context, raw string, connID string) (usecase.PlaybackResult, error)
}

// SessionCounter reports how many torrent sessions are live.
type SessionCounter interface {
	Count() int
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
)

type Server struct {
	streamTorrent  StreamTorrentUseCase
	resolver       ResolvePlaybackUseCase
	sessions       SessionCounter
	history        ports.PlaybackHistoryStore
	metricsHandler http.Handler
	allowedOrigins []string
	rateLimitRPS   float64
	rateLimitBurst int
	logger         *slog.Logger
	handler        http.Handler
	hub            *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithResolvePlayback(uc ResolvePlaybackUseCase) ServerOption {
	return func(s *Server) {
		s.resolver = uc
	}
}

func WithSessions(sessions SessionCounter) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithPlaybackHistory enables GET /history.
func WithPlaybackHistory(store ports.PlaybackHistoryStore) ServerOption {
	return func(s *Server) {
		s.history = store
	}
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimitRPS = rps
			s.rateLimitBurst = burst
		}
	}
}

func NewServer(stream StreamTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		streamTorrent:  stream,
		rateLimitRPS:   defaultRateLimitRPS,
		rateLimitBurst: defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.hub = newWSHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "cinema",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isNoisyPath(r.URL.Path)
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst,
			metricsMiddleware(
				corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Viewers  int    `json:"viewers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats := s.statistics()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: stats.Torrents,
		Viewers:  stats.Streamers,
	})
}

// Close disconnects every viewer. In-flight resolutions stop waiting but
// their fetches are left to the orchestrator.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}
