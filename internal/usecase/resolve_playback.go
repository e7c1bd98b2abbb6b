package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/domain/ports"
	"github.com/PalomitasTime/cinema/internal/metrics"
)

const (
	streamPathPrefix    = "/stream/"
	historyWriteTimeout = 5 * time.Second
)

type PlaybackResult struct {
	TorrentID domain.TorrentID
	File      domain.FileRef
	VideoLink string
}

// ResolvePlayback turns a viewer-supplied identifier into a stream link.
// Sessions without a playable movie file are removed before returning.
type ResolvePlayback struct {
	Sessions *SessionOrchestrator
	History  ports.PlaybackHistoryStore
	Logger   *slog.Logger
	Now      func() time.Time
}

func (uc ResolvePlayback) Execute(ctx context.Context, raw string, connID string) (PlaybackResult, error) {
	id, err := ParseIdentifier(raw)
	if err != nil {
		uc.record(ctx, domain.PlaybackEvent{Outcome: domain.OutcomeInvalidIdentifier, Message: err.Error(), ConnectionID: connID})
		return PlaybackResult{}, err
	}

	session, err := uc.Sessions.AddOrGet(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			uc.record(ctx, domain.PlaybackEvent{TorrentID: id.InfoHash, Outcome: domain.OutcomeEngineError, Message: err.Error(), ConnectionID: connID})
		}
		return PlaybackResult{}, err
	}

	file, ok := session.MovieFile()
	if !ok {
		uc.discard(ctx, id.InfoHash)
		uc.record(ctx, domain.PlaybackEvent{TorrentID: id.InfoHash, Outcome: domain.OutcomeNoPlayableFile, ConnectionID: connID})
		return PlaybackResult{}, ErrNoPlayableFile
	}

	if !domain.IsPlayable(file) {
		ext, _ := domain.ExtensionOf(file.Path)
		uc.discard(ctx, id.InfoHash)
		uc.record(ctx, domain.PlaybackEvent{TorrentID: id.InfoHash, FilePath: file.Path, Outcome: domain.OutcomeUnsupportedFormat, ConnectionID: connID})
		return PlaybackResult{}, &UnsupportedFormatError{Ext: ext}
	}

	uc.record(ctx, domain.PlaybackEvent{TorrentID: id.InfoHash, FilePath: file.Path, Outcome: domain.OutcomePlay, ConnectionID: connID})
	return PlaybackResult{
		TorrentID: id.InfoHash,
		File:      file,
		VideoLink: streamPathPrefix + string(id.InfoHash),
	}, nil
}

func (uc ResolvePlayback) discard(ctx context.Context, id domain.TorrentID) {
	if err := uc.Sessions.Remove(context.WithoutCancel(ctx), id); err != nil {
		uc.logger().Warn("session remove failed",
			slog.String("torrentId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}

func (uc ResolvePlayback) record(ctx context.Context, event domain.PlaybackEvent) {
	metrics.PlaybackOutcomesTotal.WithLabelValues(string(event.Outcome)).Inc()
	if uc.History == nil {
		return
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	event.CreatedAt = now().UTC()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := uc.History.Record(writeCtx, event); err != nil {
		uc.logger().Warn("playback history write failed",
			slog.String("torrentId", string(event.TorrentID)),
			slog.String("error", wrapRepo(err).Error()),
		)
	}
}

func (uc ResolvePlayback) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
