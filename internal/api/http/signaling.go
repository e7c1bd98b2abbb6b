package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/PalomitasTime/cinema/internal/domain"
	"github.com/PalomitasTime/cinema/internal/usecase"
)

// Signaling frame types.
const (
	msgTorrent    = "torrent"
	msgPlay       = "play"
	msgError      = "error message"
	msgStatistics = "statistics"
)

const (
	errTextInvalidIdentifier = "Invalid torrent ID or magnet link."
	errTextNoPlayableFile    = "No suitable movie file was found in the torrent."
	errTextEngineFailure     = "The torrent could not be loaded. Please try again later."
	errTextUnsupportedFormat = "%s video files are currently not supported. Please pick a torrent with an MP4 video file instead."
	errTextTooManyRequests   = "Another torrent is still loading. Please wait for it to finish."
)

type torrentRequest struct {
	TorrentID string `json:"torrentId"`
}

type playPayload struct {
	VideoLink string `json:"videoLink"`
}

type errorMessagePayload struct {
	Message string `json:"message"`
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The request context ends when this handler returns; the connection
	// outlives it.
	c := newViewerConn(context.WithoutCancel(r.Context()), ulid.Make().String(), conn)
	if !s.hub.register(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	s.EmitStatistics()
	go s.readPump(c)
}

func (s *Server) readPump(c *viewerConn) {
	defer func() {
		lastState, torrentID := c.currentState(), c.currentTorrent()
		c.close()
		_ = c.conn.Close()
		if s.hub.unregister(c) {
			s.logger.Info("viewer disconnected",
				slog.String("connId", c.id),
				slog.String("torrentId", string(torrentID)),
				slog.String("state", string(lastState)),
			)
			s.EmitStatistics()
		}
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ws frame ignored", slog.String("connId", c.id), slog.String("error", err.Error()))
			continue
		}
		switch msg.Type {
		case msgTorrent:
			var req torrentRequest
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &req); err != nil {
					s.logger.Debug("ws torrent payload undecodable", slog.String("connId", c.id), slog.String("error", err.Error()))
				}
			}
			if !c.acquireResolve() {
				s.logger.Info("playback request rejected, resolutions in flight", slog.String("connId", c.id))
				s.hub.Send(c, msgError, errorMessagePayload{Message: errTextTooManyRequests})
				continue
			}
			c.setState(stateResolving, "")
			go func(raw string) {
				defer c.releaseResolve()
				s.resolve(c, raw)
			}(req.TorrentID)
		default:
			s.logger.Debug("ws frame ignored", slog.String("connId", c.id), slog.String("type", msg.Type))
		}
	}
}

// resolve runs one playback resolution for c. Outcomes are delivered in
// completion order, so a later request may answer before an earlier one.
func (s *Server) resolve(c *viewerConn, raw string) {
	logger := s.logger.With(slog.String("connId", c.id))
	if s.resolver == nil {
		c.setState(stateFailed, "")
		s.hub.Send(c, msgError, errorMessagePayload{Message: errTextEngineFailure})
		return
	}

	result, err := s.resolver.Execute(c.ctx, raw, c.id)
	if err != nil {
		if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			logger.Debug("resolution abandoned, viewer gone")
			return
		}
		c.setState(stateFailed, "")
		logger.Info("playback rejected", slog.String("error", err.Error()))
		s.hub.Send(c, msgError, errorMessagePayload{Message: playbackErrorText(err)})
		return
	}

	c.setState(statePlaying, result.TorrentID)
	logger.Info("playback ready",
		slog.String("torrentId", string(result.TorrentID)),
		slog.String("file", result.File.Path),
		slog.Int64("bytesCompleted", result.File.BytesCompleted),
		slog.Int64("length", result.File.Length),
	)
	s.hub.Send(c, msgPlay, playPayload{VideoLink: result.VideoLink})
	s.EmitStatistics()
}

func playbackErrorText(err error) string {
	var unsupported *usecase.UnsupportedFormatError
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return errTextInvalidIdentifier
	case errors.Is(err, usecase.ErrNoPlayableFile):
		return errTextNoPlayableFile
	case errors.As(err, &unsupported):
		return fmt.Sprintf(errTextUnsupportedFormat, strings.ToUpper(unsupported.Ext))
	default:
		return errTextEngineFailure
	}
}
