package ports

import "github.com/PalomitasTime/cinema/internal/domain"

type Session interface {
	ID() domain.TorrentID
	Name() string
	Files() []domain.FileRef
	NewReader(file domain.FileRef) (StreamReader, error)
}
