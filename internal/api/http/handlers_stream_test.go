package apihttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/metrics"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

func newStreamFixture(size int, name string) ([]byte, *fakeStreamUseCase, *Server) {
	data := testPayload(size)
	uc := &fakeStreamUseCase{
		reader: newFakeStreamReader(data),
		file:   domain.FileRef{Index: 1, Path: name, Length: int64(size)},
	}
	return data, uc, NewServer(uc)
}

func doStream(s *Server, method, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/stream/"+testHash, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestStreamFullFile(t *testing.T) {
	data, uc, s := newStreamFixture(1000, "Movie/movie.mp4")

	rec := doStream(s, http.MethodGet, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q, want 1000", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	if got := rec.Header().Get("Content-Range"); got != "" {
		t.Errorf("unexpected Content-Range %q on full response", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Errorf("body mismatch: got %d bytes", rec.Body.Len())
	}
	if !uc.reader.isClosed() {
		t.Error("expected reader to be closed")
	}
}

func TestStreamRangeExample(t *testing.T) {
	data, _, s := newStreamFixture(1000, "movie.mp4")

	rec := doStream(s, http.MethodGet, "bytes=100-199")

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Errorf("Content-Length = %q, want 100", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[100:200]) {
		t.Errorf("body mismatch for bytes 100-199")
	}
}

func TestStreamValidRanges(t *testing.T) {
	tests := []struct {
		header     string
		start, end int64
	}{
		{"bytes=0-0", 0, 0},
		{"bytes=0-999", 0, 999},
		{"bytes=999-999", 999, 999},
		{"bytes=500-", 500, 999},
		{"bytes=0-", 0, 999},
	}

	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			data, _, s := newStreamFixture(1000, "movie.mp4")

			rec := doStream(s, http.MethodGet, tc.header)

			if rec.Code != http.StatusPartialContent {
				t.Fatalf("expected 206, got %d", rec.Code)
			}
			wantRange := fmt.Sprintf("bytes %d-%d/1000", tc.start, tc.end)
			if got := rec.Header().Get("Content-Range"); got != wantRange {
				t.Errorf("Content-Range = %q, want %q", got, wantRange)
			}
			wantLen := tc.end - tc.start + 1
			if got := rec.Header().Get("Content-Length"); got != strconv.FormatInt(wantLen, 10) {
				t.Errorf("Content-Length = %q, want %d", got, wantLen)
			}
			if !bytes.Equal(rec.Body.Bytes(), data[tc.start:tc.end+1]) {
				t.Errorf("body mismatch")
			}
		})
	}
}

func TestStreamUnsatisfiableRanges(t *testing.T) {
	for _, header := range []string{
		"bytes=900-999999",
		"bytes=1000-",
		"bytes=1000-1000",
		"bytes=200-100",
		"bytes=-5-10",
		"bytes=0-9223372036854775807",
		"bytes=1-9223372036854775807",
	} {
		t.Run(header, func(t *testing.T) {
			_, uc, s := newStreamFixture(1000, "movie.mp4")

			rec := doStream(s, http.MethodGet, header)

			if rec.Code != http.StatusRequestedRangeNotSatisfiable {
				t.Fatalf("expected 416, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", rec.Body.String())
			}
			if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
				t.Errorf("Content-Range = %q, want bytes */1000", got)
			}
			if !uc.reader.isClosed() {
				t.Error("expected reader to be closed")
			}
		})
	}
}

func TestStreamMalformedRanges(t *testing.T) {
	for _, header := range []string{
		"bytes=-5",
		"bytes=0-1,2-3",
		"items=0-1",
		"bytes=a-b",
		"bytes=1-x",
		"bytes=",
		"bytes=10",
		"Bytes=10-19",
	} {
		t.Run(header, func(t *testing.T) {
			_, _, s := newStreamFixture(1000, "movie.mp4")

			rec := doStream(s, http.MethodGet, header)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var env errorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Error.Code != "invalid_range" {
				t.Errorf("error code = %q, want invalid_range", env.Error.Code)
			}
		})
	}
}

func TestStreamSessionNotFound(t *testing.T) {
	s := NewServer(&fakeStreamUseCase{err: domain.ErrNotFound})

	rec := doStream(s, http.MethodGet, "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session not found") {
		t.Errorf("body = %q, want session not found", rec.Body.String())
	}
}

func TestStreamFileNotFound(t *testing.T) {
	s := NewServer(&fakeStreamUseCase{err: fmt.Errorf("%w: %w", domain.ErrNotFound, usecase.ErrNoPlayableFile)})

	rec := doStream(s, http.MethodGet, "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "file not found") {
		t.Errorf("body = %q, want file not found", rec.Body.String())
	}
}

func TestStreamEngineError(t *testing.T) {
	s := NewServer(&fakeStreamUseCase{err: fmt.Errorf("%w: %v", usecase.ErrEngine, errBoom)})

	rec := doStream(s, http.MethodGet, "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStreamMethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			_, uc, s := newStreamFixture(10, "movie.mp4")

			rec := doStream(s, method, "")

			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("expected 405, got %d", rec.Code)
			}
			if got := rec.Header().Get("Allow"); got != http.MethodGet {
				t.Errorf("Allow = %q, want GET", got)
			}
			if len(uc.calls) != 0 {
				t.Error("use case must not run for rejected methods")
			}
		})
	}
}

func TestStreamNormalizesIdentifier(t *testing.T) {
	_, uc, s := newStreamFixture(10, "movie.mp4")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+strings.ToUpper(testHash), nil)
	s.ServeHTTP(httptest.NewRecorder(), req)

	if len(uc.calls) != 1 || uc.calls[0] != domain.TorrentID(testHash) {
		t.Fatalf("calls = %v, want [%s]", uc.calls, testHash)
	}
}

func TestStreamRejectsEmptyAndNestedPaths(t *testing.T) {
	for _, path := range []string{"/stream/", "/stream/" + testHash + "/extra"} {
		_, uc, s := newStreamFixture(10, "movie.mp4")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
		if len(uc.calls) != 0 {
			t.Errorf("%s: use case must not run", path)
		}
	}
}

func TestStreamContentTypeFromExtension(t *testing.T) {
	_, _, s := newStreamFixture(10, "clip.M4V")

	rec := doStream(s, http.MethodGet, "")

	if got := rec.Header().Get("Content-Type"); got != "video/x-m4v" {
		t.Errorf("Content-Type = %q, want video/x-m4v", got)
	}
}

func TestStreamCountsBytes(t *testing.T) {
	_, _, s := newStreamFixture(1000, "movie.mp4")
	before := testutil.ToFloat64(metrics.StreamedBytesTotal)

	rec := doStream(s, http.MethodGet, "bytes=0-99")
	_, _ = io.Copy(io.Discard, rec.Body)

	if got := testutil.ToFloat64(metrics.StreamedBytesTotal) - before; got != 100 {
		t.Errorf("streamed bytes grew by %v, want 100", got)
	}
}

func TestStreamOptionsWithOrigin(t *testing.T) {
	_, uc, s := newStreamFixture(10, "movie.mp4")

	plain := httptest.NewRequest(http.MethodOptions, "/stream/"+testHash, nil)
	plain.Header.Set("Origin", "http://player.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, plain)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("OPTIONS without preflight headers: expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Allow = %q, want GET", got)
	}

	preflight := httptest.NewRequest(http.MethodOptions, "/stream/"+testHash, nil)
	preflight.Header.Set("Origin", "http://player.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodGet)
	preflight.Header.Set("Access-Control-Request-Headers", "range")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Range") {
		t.Errorf("Access-Control-Allow-Headers = %q, want Range allowed", got)
	}
	if len(uc.calls) != 0 {
		t.Error("use case must not run for OPTIONS")
	}
}
