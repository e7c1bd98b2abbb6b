package domain

import "time"

type PlaybackOutcome string

const (
	OutcomePlay              PlaybackOutcome = "play"
	OutcomeNoPlayableFile    PlaybackOutcome = "no_playable_file"
	OutcomeUnsupportedFormat PlaybackOutcome = "unsupported_format"
	OutcomeInvalidIdentifier PlaybackOutcome = "invalid_identifier"
	OutcomeEngineError       PlaybackOutcome = "engine_error"
)

// PlaybackEvent records how a single playback request was resolved.
type PlaybackEvent struct {
	TorrentID    TorrentID       `json:"torrentId"`
	FilePath     string          `json:"filePath,omitempty"`
	Outcome      PlaybackOutcome `json:"outcome"`
	Message      string          `json:"message,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
