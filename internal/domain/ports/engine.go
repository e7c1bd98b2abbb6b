package ports

import (
	"context"

	"github.com/PalomitasTime/cinema/internal/domain"
)

// Engine adds torrents to the swarm client and tracks the resulting sessions.
// Open suspends until the torrent metadata is available.
type Engine interface {
	Open(ctx context.Context, id domain.Identifier) (Session, error)
	GetSession(ctx context.Context, id domain.TorrentID) (Session, error)
	RemoveSession(ctx context.Context, id domain.TorrentID) error
	ListSessions(ctx context.Context) ([]domain.TorrentID, error)
	Close() error
}
