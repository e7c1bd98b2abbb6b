package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/metrics"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

// handleStream serves the movie file of an existing session with single
// byte-range support. It never starts a fetch.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/stream/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if s.streamTorrent == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "streaming not configured")
		return
	}
	id := usecase.NormalizeTorrentID(raw)
	logger := s.logger.With(slog.String("torrentId", string(id)))
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		logger = logger.With(slog.String("traceId", sc.TraceID().String()))
	}

	result, err := s.streamTorrent.Execute(r.Context(), id)
	if err != nil {
		logger.Info("stream rejected", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	defer result.Reader.Close()

	size := result.File.Length
	start, end := int64(0), size-1
	status := http.StatusOK

	if header := r.Header.Get("Range"); header != "" {
		start, end, err = parseByteRange(header, size)
		switch {
		case errors.Is(err, errInvalidRange):
			logger.Info("malformed range", slog.String("range", header))
			writeError(w, http.StatusBadRequest, "invalid_range", "malformed range header")
			return
		case errors.Is(err, errRangeNotSatisfiable):
			logger.Info("range not satisfiable",
				slog.Int("status", http.StatusRequestedRangeNotSatisfiable),
				slog.String("range", header),
				slog.Int64("length", size),
			)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
	}

	length := end - start + 1

	if start > 0 {
		if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
			logger.Error("stream seek failed", slog.Int64("offset", start), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "stream_error", "failed to seek stream")
			return
		}
	}

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", domain.ContentType(result.File.Path))
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	w.WriteHeader(status)

	written, err := io.CopyN(w, result.Reader, length)
	metrics.StreamedBytesTotal.Add(float64(written))

	attrs := []any{
		slog.Int("status", status),
		slog.String("file", result.File.Path),
		slog.Int64("bytes", written),
	}
	if status == http.StatusPartialContent {
		attrs = append(attrs, slog.Int64("start", start), slog.Int64("end", end), slog.Int64("length", size))
	}
	if err != nil {
		logger.Debug("stream interrupted", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	if status == http.StatusPartialContent {
		logger.Debug("stream range served", attrs...)
	} else {
		logger.Debug("stream full file served", attrs...)
	}
}
