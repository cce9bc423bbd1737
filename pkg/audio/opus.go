package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// opusMaxFrameSize is the largest Opus frame duration we accept (120 ms) in
// samples at the pipeline rate.
const opusMaxFrameSize = SampleRate * 120 / 1000

// OpusDecoder decodes mono Opus packets into pipeline-rate PCM bytes.
// Browser clients that cannot ship raw PCM negotiate the "opus" websocket
// subprotocol and send one Opus packet per message.
//
// A decoder carries codec state across consecutive packets, so each stream
// needs its own instance. Not safe for concurrent use.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder for 16 kHz mono Opus input.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet and returns the PCM payload as little-endian
// int16 bytes, ready for [Framer.Push].
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16ToBytes(pcm), nil
}
