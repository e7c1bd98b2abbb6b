package usecase

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
)

type fakeStreamReader struct {
	ctx        context.Context
	readahead  int64
	responsive bool
	pos        int64
	closed     bool
}

func (f *fakeStreamReader) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeStreamReader) SetReadahead(n int64)           { f.readahead = n }
func (f *fakeStreamReader) SetResponsive()                 { f.responsive = true }
func (f *fakeStreamReader) Read(p []byte) (int, error)     { return 0, io.EOF }
func (f *fakeStreamReader) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = off
	case io.SeekCurrent:
		f.pos += off
	default:
		return 0, errors.New("invalid whence")
	}
	return f.pos, nil
}
func (f *fakeStreamReader) Close() error { f.closed = true; return nil }

type fakeSession struct {
	mu     sync.Mutex
	id     domain.TorrentID
	files  []domain.FileRef
	reader *fakeStreamReader
}

func (s *fakeSession) ID() domain.TorrentID { return s.id }
func (s *fakeSession) Name() string         { return "fake" }
func (s *fakeSession) Files() []domain.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FileRef(nil), s.files...)
}
func (s *fakeSession) NewReader(file domain.FileRef) (ports.StreamReader, error) {
	if s.reader == nil {
		return nil, errors.New("no reader")
	}
	return s.reader, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	opens   int
	removed []domain.TorrentID
	live    map[domain.TorrentID]*fakeSession
	files   []domain.FileRef
	openErr error
	gate    chan struct{}
	started chan struct{}
	reader  *fakeStreamReader

	// removeGate holds RemoveSession until closed; removeStarted is signalled
	// when a remove reaches the gate.
	removeGate    chan struct{}
	removeStarted chan struct{}
}

func (e *fakeEngine) Open(ctx context.Context, id domain.Identifier) (ports.Session, error) {
	e.mu.Lock()
	e.opens++
	e.mu.Unlock()
	if e.started != nil {
		select {
		case e.started <- struct{}{}:
		default:
		}
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	s := &fakeSession{id: id.InfoHash, files: e.files, reader: e.reader}
	if e.live == nil {
		e.live = make(map[domain.TorrentID]*fakeSession)
	}
	e.live[id.InfoHash] = s
	return s, nil
}

func (e *fakeEngine) GetSession(ctx context.Context, id domain.TorrentID) (ports.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.live[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (e *fakeEngine) RemoveSession(ctx context.Context, id domain.TorrentID) error {
	if e.removeGate != nil {
		if e.removeStarted != nil {
			select {
			case e.removeStarted <- struct{}{}:
			default:
			}
		}
		<-e.removeGate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, id)
	if _, ok := e.live[id]; !ok {
		return domain.ErrNotFound
	}
	delete(e.live, id)
	return nil
}

func (e *fakeEngine) ListSessions(ctx context.Context) ([]domain.TorrentID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]domain.TorrentID, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) isLive(id domain.TorrentID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.live[id]
	return ok
}

func (e *fakeEngine) drop(id domain.TorrentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, id)
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *fakeEngine) removedIDs() []domain.TorrentID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TorrentID(nil), e.removed...)
}

type fakeHistory struct {
	mu     sync.Mutex
	events []domain.PlaybackEvent
	err    error
}

func (h *fakeHistory) Record(ctx context.Context, event domain.PlaybackEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, event)
	return nil
}

func (h *fakeHistory) ListRecent(ctx context.Context, limit int) ([]domain.PlaybackEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.PlaybackEvent(nil), h.events...), nil
}
