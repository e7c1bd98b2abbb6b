package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
	"github.com/PalomitasTime/cinema/internal/metrics"
)

const defaultFetchTimeout = 2 * time.Minute

var tracer = otel.Tracer("github.com/PalomitasTime/cinema/internal/usecase")

// Session is an engine session registered with the orchestrator.
type Session struct {
	ports.Session
	CreatedAt time.Time

	movieOnce sync.Once
	movie     domain.FileRef
	hasMovie  bool
}

// MovieFile returns the movie file chosen for this session. The choice is
// made once and never changes.
func (s *Session) MovieFile() (domain.FileRef, bool) {
	s.movieOnce.Do(func() {
		s.movie, s.hasMovie = domain.SelectMovieFile(s.Files())
	})
	return s.movie, s.hasMovie
}

// SessionOrchestrator owns the set of live sessions and guarantees at most
// one engine fetch per info-hash. Adding and removing the same info-hash are
// serialized.
type SessionOrchestrator struct {
	Engine       ports.Engine
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time

	mu       sync.RWMutex
	sessions map[domain.TorrentID]*Session
	group    singleflight.Group

	keysMu sync.Mutex
	keys   map[domain.TorrentID]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewSessionOrchestrator(engine ports.Engine, fetchTimeout time.Duration, logger *slog.Logger) *SessionOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &SessionOrchestrator{
		Engine:       engine,
		FetchTimeout: fetchTimeout,
		Logger:       logger,
		Now:          time.Now,
		sessions:     make(map[domain.TorrentID]*Session),
		keys:         make(map[domain.TorrentID]*keyLock),
	}
}

// AddOrGet returns the session for id, starting a fetch if none exists.
// Concurrent callers for the same info-hash share one fetch. The fetch is not
// bound to ctx: a caller that gives up stops waiting but the session still
// gets registered for later requests.
func (o *SessionOrchestrator) AddOrGet(ctx context.Context, id domain.Identifier) (*Session, error) {
	ctx, span := tracer.Start(ctx, "session.addOrGet")
	defer span.End()
	span.SetAttributes(attribute.String("torrent.id", string(id.InfoHash)))

	if s, ok := o.lookup(id.InfoHash); ok {
		span.SetAttributes(attribute.Bool("session.cached", true))
		return s, nil
	}

	ch := o.group.DoChan(string(id.InfoHash), func() (interface{}, error) {
		return o.fetch(context.WithoutCancel(ctx), id)
	})

	select {
	case res := <-ch:
		span.SetAttributes(attribute.Bool("session.shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *SessionOrchestrator) fetch(ctx context.Context, id domain.Identifier) (*Session, error) {
	if s, ok := o.lookup(id.InfoHash); ok {
		return s, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout())
	defer cancel()

	unlock, err := o.lockKey(ctx, id.InfoHash)
	if err != nil {
		return nil, ErrFetchTimeout
	}
	defer unlock()

	// A remove that held the key may have finished while we waited.
	if s, ok := o.lookup(id.InfoHash); ok {
		return s, nil
	}

	metrics.FetchStartsTotal.Inc()
	started := time.Now()
	o.Logger.Info("torrent fetch started", slog.String("torrentId", string(id.InfoHash)))

	es, err := o.Engine.Open(ctx, id)
	if err != nil {
		if rmErr := o.Engine.RemoveSession(context.Background(), id.InfoHash); rmErr != nil && !errors.Is(rmErr, domain.ErrNotFound) {
			o.Logger.Warn("engine cleanup failed",
				slog.String("torrentId", string(id.InfoHash)),
				slog.String("error", rmErr.Error()),
			)
		}
		o.Logger.Warn("torrent fetch failed",
			slog.String("torrentId", string(id.InfoHash)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrFetchTimeout
		}
		return nil, wrapEngine(err)
	}
	metrics.FetchDuration.Observe(time.Since(started).Seconds())

	s := &Session{Session: es, CreatedAt: o.now()}

	o.mu.Lock()
	o.sessions[id.InfoHash] = s
	count := len(o.sessions)
	o.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))

	o.Logger.Info("torrent session ready",
		slog.String("torrentId", string(id.InfoHash)),
		slog.String("name", es.Name()),
		slog.Int("files", len(es.Files())),
		slog.Duration("elapsed", time.Since(started)),
	)
	return s, nil
}

// Get returns a registered session without starting a fetch. Sessions whose
// fetch is still in flight are reported as not found, and so are sessions the
// engine no longer holds; the latter are dropped from the registry.
func (o *SessionOrchestrator) Get(ctx context.Context, id domain.TorrentID) (*Session, error) {
	s, ok := o.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	if _, err := o.Engine.GetSession(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.forget(id, s)
			o.Logger.Warn("stale session dropped", slog.String("torrentId", string(id)))
			return nil, domain.ErrNotFound
		}
		return nil, wrapEngine(err)
	}
	return s, nil
}

// Remove unregisters the session and releases its engine resources. Removing
// an unknown session is not an error. A fetch for the same info-hash waits
// until the remove completes.
func (o *SessionOrchestrator) Remove(ctx context.Context, id domain.TorrentID) error {
	unlock, err := o.lockKey(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	o.mu.Lock()
	delete(o.sessions, id)
	count := len(o.sessions)
	o.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))

	if err := o.Engine.RemoveSession(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return wrapEngine(err)
	}
	o.Logger.Info("torrent session removed", slog.String("torrentId", string(id)))
	return nil
}

func (o *SessionOrchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// IDs returns the info-hashes of all registered sessions.
func (o *SessionOrchestrator) IDs() []domain.TorrentID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]domain.TorrentID, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close removes every registered session and any torrent the engine still
// holds without a registration, such as one whose fetch was abandoned.
func (o *SessionOrchestrator) Close(ctx context.Context) {
	ids := o.IDs()
	seen := make(map[domain.TorrentID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	engineIDs, err := o.Engine.ListSessions(ctx)
	if err != nil {
		o.Logger.Warn("engine session list failed", slog.String("error", err.Error()))
	}
	for _, id := range engineIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		if err := o.Remove(ctx, id); err != nil {
			o.Logger.Warn("session close failed",
				slog.String("torrentId", string(id)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *SessionOrchestrator) lookup(id domain.TorrentID) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	return s, ok
}

// forget drops id only while it still maps to s, so a session registered by a
// newer fetch survives.
func (o *SessionOrchestrator) forget(id domain.TorrentID, s *Session) {
	o.mu.Lock()
	if o.sessions[id] == s {
		delete(o.sessions, id)
	}
	count := len(o.sessions)
	o.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

// lockKey takes the per-info-hash lock. The returned func releases it.
func (o *SessionOrchestrator) lockKey(ctx context.Context, id domain.TorrentID) (func(), error) {
	o.keysMu.Lock()
	if o.keys == nil {
		o.keys = make(map[domain.TorrentID]*keyLock)
	}
	l, ok := o.keys[id]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		o.keys[id] = l
	}
	l.refs++
	o.keysMu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		o.releaseKey(id, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		o.releaseKey(id, l)
	}, nil
}

func (o *SessionOrchestrator) releaseKey(id domain.TorrentID, l *keyLock) {
	o.keysMu.Lock()
	defer o.keysMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(o.keys, id)
	}
}

func (o *SessionOrchestrator) fetchTimeout() time.Duration {
	if o.FetchTimeout <= 0 {
		return defaultFetchTimeout
	}
	return o.FetchTimeout
}

func (o *SessionOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
