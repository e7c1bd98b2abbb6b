package apihttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

const testHash = "c9e15763f722f23e98a29decdfae341b98d53056"

// ---- stream fakes ----

type fakeStreamReader struct {
	*bytes.Reader
	mu     sync.Mutex
	closed bool
}

func newFakeStreamReader(data []byte) *fakeStreamReader {
	return &fakeStreamReader{Reader: bytes.NewReader(data)}
}

func (r *fakeStreamReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeStreamReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeStreamReader) SetContext(context.Context) {}
func (r *fakeStreamReader) SetReadahead(int64)         {}
func (r *fakeStreamReader) SetResponsive()             {}

type fakeStreamUseCase struct {
	mu     sync.Mutex
	reader *fakeStreamReader
	file   domain.FileRef
	err    error
	calls  []domain.TorrentID
}

func (f *fakeStreamUseCase) Execute(_ context.Context, id domain.TorrentID) (usecase.StreamResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.err != nil {
		return usecase.StreamResult{}, f.err
	}
	return usecase.StreamResult{Reader: f.reader, File: f.file}, nil
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// ---- engine fakes for end-to-end signaling ----

type fakeSession struct {
	id    domain.TorrentID
	files []domain.FileRef
}

func (s *fakeSession) ID() domain.TorrentID    { return s.id }
func (s *fakeSession) Name() string            { return "fixture" }
func (s *fakeSession) Files() []domain.FileRef { return s.files }
func (s *fakeSession) NewReader(f domain.FileRef) (ports.StreamReader, error) {
	return newFakeStreamReader(testPayload(int(f.Length))), nil
}

type fakeEngine struct {
	mu      sync.Mutex
	files   []domain.FileRef
	openErr error
	gate    chan struct{}
	open    map[domain.TorrentID]bool
	removed []domain.TorrentID
}

func newFakeEngine(files ...domain.FileRef) *fakeEngine {
	return &fakeEngine{files: files, open: make(map[domain.TorrentID]bool)}
}

func (e *fakeEngine) Open(ctx context.Context, id domain.Identifier) (ports.Session, error) {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.open[id.InfoHash] = true
	return &fakeSession{id: id.InfoHash, files: e.files}, nil
}

func (e *fakeEngine) GetSession(_ context.Context, id domain.TorrentID) (ports.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open[id] {
		return nil, domain.ErrNotFound
	}
	return &fakeSession{id: id, files: e.files}, nil
}

func (e *fakeEngine) RemoveSession(_ context.Context, id domain.TorrentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, id)
	if !e.open[id] {
		return domain.ErrNotFound
	}
	delete(e.open, id)
	return nil
}

func (e *fakeEngine) ListSessions(context.Context) ([]domain.TorrentID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]domain.TorrentID, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) removedIDs() []domain.TorrentID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TorrentID(nil), e.removed...)
}

// ---- history fake ----

type fakeHistoryStore struct {
	mu      sync.Mutex
	events  []domain.PlaybackEvent
	listErr error
	limits  []int
}

func (f *fakeHistoryStore) Record(_ context.Context, event domain.PlaybackEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeHistoryStore) ListRecent(_ context.Context, limit int) ([]domain.PlaybackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	events := f.events
	if limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

var errBoom = errors.New("boom")

var _ io.ReadSeekCloser = (*fakeStreamReader)(nil)
