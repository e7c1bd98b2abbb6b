package anacrolix

import (
	"github.com/anacrolix/torrent"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
)

// Session is a torrent whose metadata is available.
type Session struct {
	torrent *torrent.Torrent
	id      domain.TorrentID
}

func (s *Session) ID() domain.TorrentID {
	return s.id
}

func (s *Session) Name() string {
	if s.torrent == nil {
		return ""
	}
	return s.torrent.Name()
}

func (s *Session) Files() []domain.FileRef {
	return mapFiles(s.torrent)
}

// NewReader returns a reader over file. Reads block until the requested
// pieces have been downloaded and verified.
func (s *Session) NewReader(file domain.FileRef) (ports.StreamReader, error) {
	if !torrentInfoReady(s.torrent) {
		return nil, ErrSessionNotFound
	}
	files := s.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, ErrSessionNotFound
	}
	return files[file.Index].NewReader(), nil
}
