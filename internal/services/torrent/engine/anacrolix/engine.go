package anacrolix

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
	"github.com/PalomitasTime/cinema/internal/storage/memory"
)

var ErrSessionNotFound = domain.ErrNotFound

const (
	StorageModeDisk   = "disk"
	StorageModeMemory = "memory"
)

// addTimeout caps the time we wait for the client to accept a torrent.
// AddMagnet can block on the client mutex while it is busy.
const addTimeout = 10 * time.Second

type Config struct {
	DataDir          string
	StorageMode      string
	MemoryLimitBytes int64
	ListenPort       int // 0 keeps the client default, negative picks a free port
	NoDHT            bool
	DisableTrackers  bool
}

type Engine struct {
	client   *torrent.Client
	memory   *memory.Provider
	mu       sync.RWMutex
	sessions map[domain.TorrentID]*torrent.Torrent
}

var _ ports.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	switch {
	case cfg.ListenPort < 0:
		clientConfig.ListenPort = 0
	case cfg.ListenPort > 0:
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.NoDHT = cfg.NoDHT
	clientConfig.DisableTrackers = cfg.DisableTrackers

	var mem *memory.Provider
	if cfg.StorageMode == StorageModeMemory {
		mem = memory.NewProvider(memory.WithMaxBytes(cfg.MemoryLimitBytes))
		clientConfig.DefaultStorage = storage.NewResourcePieces(mem)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := NewWithClient(client)
	e.memory = mem
	return e, nil
}

func NewWithClient(client *torrent.Client) *Engine {
	return &Engine{
		client:   client,
		sessions: make(map[domain.TorrentID]*torrent.Torrent),
	}
}

// Open adds the torrent to the client and waits for its metadata. A torrent
// that is already tracked is reused. On failure the torrent stays registered
// so the caller can release it with RemoveSession.
func (e *Engine) Open(ctx context.Context, id domain.Identifier) (ports.Session, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}

	t := e.getTorrent(id.InfoHash)
	if t == nil {
		added, err := e.add(ctx, id)
		if err != nil {
			return nil, err
		}
		t = added
		e.mu.Lock()
		e.sessions[id.InfoHash] = t
		e.mu.Unlock()
	}

	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return nil, errors.New("torrent closed before metadata arrived")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.DownloadAll()
	return &Session{torrent: t, id: id.InfoHash}, nil
}

func (e *Engine) add(ctx context.Context, id domain.Identifier) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		if id.Magnet != "" {
			t, err := e.client.AddMagnet(id.Magnet)
			ch <- addResult{t, err}
			return
		}
		t, _ := e.client.AddTorrentInfoHash(metainfo.NewHashFromHex(string(id.InfoHash)))
		ch <- addResult{t, nil}
	}()

	dropLate := func() {
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
	}

	select {
	case res := <-ch:
		return res.t, res.err
	case <-time.After(addTimeout):
		dropLate()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		dropLate()
		return nil, ctx.Err()
	}
}

func (e *Engine) GetSession(ctx context.Context, id domain.TorrentID) (ports.Session, error) {
	t := e.getTorrent(id)
	if t == nil || !torrentInfoReady(t) {
		return nil, ErrSessionNotFound
	}
	return &Session{torrent: t, id: id}, nil
}

func (e *Engine) RemoveSession(ctx context.Context, id domain.TorrentID) error {
	e.mu.RLock()
	t := e.sessions[id]
	e.mu.RUnlock()
	if t == nil {
		return ErrSessionNotFound
	}
	return e.dropTorrent(id, t)
}

func (e *Engine) ListSessions(ctx context.Context) ([]domain.TorrentID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]domain.TorrentID, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// Stats aggregates swarm figures across all tracked torrents.
func (e *Engine) Stats() domain.EngineStats {
	e.mu.RLock()
	torrents := make([]*torrent.Torrent, 0, len(e.sessions))
	for _, t := range e.sessions {
		torrents = append(torrents, t)
	}
	e.mu.RUnlock()

	var out domain.EngineStats
	for _, t := range torrents {
		stats := t.Stats()
		out.Peers += stats.ActivePeers
		out.BytesRead += stats.BytesReadUsefulData.Int64()
	}
	if e.memory != nil {
		out.StorageBytes, _, _ = e.memory.Usage()
	}
	return out
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func (e *Engine) getTorrent(id domain.TorrentID) *torrent.Torrent {
	e.mu.RLock()
	t := e.sessions[id]
	e.mu.RUnlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.Closed():
		_ = e.dropTorrent(id, t)
		return nil
	default:
		return t
	}
}

func (e *Engine) dropTorrent(id domain.TorrentID, t *torrent.Torrent) error {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	if t != nil {
		t.Drop()
	}
	// Piece buffers of dropped torrents are large; hand them back to the OS.
	freeOSMemory()
	return nil
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
