package ports

import (
	"context"

	"github.com/PalomitasTime/cinema/internal/domain"
)

type PlaybackHistoryStore interface {
	Record(ctx context.Context, event domain.PlaybackEvent) error
	ListRecent(ctx context.Context, limit int) ([]domain.PlaybackEvent, error)
}
