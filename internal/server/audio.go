package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/dungeonarchive/chronicler/pkg/audio"
)

// opusSubprotocol is offered during the /audio handshake. Clients that
// negotiate it send Opus packets; everyone else sends raw 16 kHz mono
// little-endian PCM.
const opusSubprotocol = "opus"

// handleAudio ingests the live microphone stream. Only one audio client may
// be active at a time since all chunks feed a single session pipeline.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "audio ingest disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{opusSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("audio client upgrade failed", "error", err)
		return
	}

	select {
	case s.audioBusy <- struct{}{}:
	default:
		conn.Close(websocket.StatusPolicyViolation, "another audio stream is active")
		return
	}
	defer func() { <-s.audioBusy }()

	var decoder *audio.OpusDecoder
	if conn.Subprotocol() == opusSubprotocol {
		decoder, err = audio.NewOpusDecoder()
		if err != nil {
			s.logger.Error("opus decoder init failed", "error", err)
			conn.Close(websocket.StatusInternalError, "opus unavailable")
			return
		}
	}

	s.logger.Info("audio client connected",
		"remote", r.RemoteAddr,
		"subprotocol", conn.Subprotocol())
	s.metrics.ActiveAudioStreams.Add(r.Context(), 1)
	defer func() {
		s.metrics.ActiveAudioStreams.Add(context.Background(), -1)
		s.logger.Info("audio client disconnected", "remote", r.RemoteAddr)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if decoder != nil {
			data, err = decoder.Decode(data)
			if err != nil {
				s.logger.Warn("opus packet dropped", "error", err)
				continue
			}
		}
		if err := s.pipeline.PushAudio(data); err != nil {
			s.logger.Error("audio ingest failed", "error", err)
			conn.Close(websocket.StatusInternalError, "ingest failed")
			return
		}
	}
}
