package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
)

const defaultStreamReadahead = 16 << 20

type StreamResult struct {
	Reader ports.StreamReader
	File   domain.FileRef
}

// StreamTorrent opens a reader over the movie file of an existing session.
// It never starts a fetch.
type StreamTorrent struct {
	Sessions       *SessionOrchestrator
	ReadaheadBytes int64
}

func (uc StreamTorrent) Execute(ctx context.Context, id domain.TorrentID) (StreamResult, error) {
	if uc.Sessions == nil {
		return StreamResult{}, errors.New("session orchestrator not configured")
	}

	session, err := uc.Sessions.Get(ctx, id)
	if err != nil {
		return StreamResult{}, err
	}

	file, ok := session.MovieFile()
	if !ok {
		return StreamResult{}, fmt.Errorf("%w: %w", domain.ErrNotFound, ErrNoPlayableFile)
	}

	reader, err := session.NewReader(file)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StreamResult{}, err
		}
		return StreamResult{}, wrapEngine(err)
	}
	if reader == nil {
		return StreamResult{}, errors.New("stream reader not available")
	}

	readahead := uc.ReadaheadBytes
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	reader.SetContext(ctx)
	reader.SetReadahead(readahead)
	reader.SetResponsive()

	return StreamResult{Reader: reader, File: file}, nil
}
