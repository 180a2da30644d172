// Package audio implements the audio intake gate: per
// session frame buffering, a minimum-utterance-length gate, and the WAV
// header synthesis that wraps raw PCM before it's submitted to the
// transcription port.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SampleRate, Channels, and BitDepth are fixed at the edge of the engine:
// the transport delivers raw PCM, 16 kHz, mono, 16-bit signed little-endian.
const (
	SampleRate = 16000
	Channels   = 1
	BitDepth   = 16
)

// MinUtteranceMillis is the shortest buffered utterance the gate accepts
// before discarding: under 0.5s of audio at 16kHz/16-bit mono.
const MinUtteranceMillis = 500

// BytesPerSample is derived from BitDepth.
const BytesPerSample = BitDepth / 8

// MinUtteranceBytes is the byte-length threshold on_audio_end gates against.
const MinUtteranceBytes = SampleRate * Channels * BytesPerSample * MinUtteranceMillis / 1000

// ErrMisalignedFrame is returned by Buffer.Append when a frame's length
// isn't a whole number of 16-bit samples — the only format boundary check
// possible without a second format parameter (multi-format support is out
// of scope).
var ErrMisalignedFrame = fmt.Errorf("audio: frame length not a multiple of %d bytes", BytesPerSample)

// Buffer accumulates raw PCM frames for one utterance.
type Buffer struct {
	data []byte
}

// Append adds frame to the buffer. Frames whose length isn't a multiple of
// BytesPerSample are rejected rather than silently corrupting the sample
// boundary of everything appended after them.
func (b *Buffer) Append(frame []byte) error {
	if len(frame)%BytesPerSample != 0 {
		return ErrMisalignedFrame
	}
	b.data = append(b.data, frame...)
	return nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Qualifies reports whether the buffer has accumulated at least
// MinUtteranceBytes.
func (b *Buffer) Qualifies() bool { return len(b.data) >= MinUtteranceBytes }

// Take returns the buffered bytes and resets the buffer.
func (b *Buffer) Take() []byte {
	data := b.data
	b.data = nil
	return data
}

// wavHeaderSize is the size in bytes of the canonical 44-byte PCM WAV
// header this package synthesizes.
const wavHeaderSize = 44

// WrapWAV synthesizes a minimal canonical WAV header around raw 16 kHz
// mono 16-bit PCM and returns the full container, ready for submission to
// a transcription port.
func WrapWAV(pcm []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	dataLen := uint32(len(pcm))
	byteRate := uint32(SampleRate * Channels * BytesPerSample)
	blockAlign := uint16(Channels * BytesPerSample)

	buf.WriteString("RIFF")
	writeUint32(buf, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeUint32(buf, 16) // PCM fmt chunk size
	writeUint16(buf, 1)  // PCM format tag
	writeUint16(buf, uint16(Channels))
	writeUint32(buf, SampleRate)
	writeUint32(buf, byteRate)
	writeUint16(buf, blockAlign)
	writeUint16(buf, uint16(BitDepth))

	buf.WriteString("data")
	writeUint32(buf, dataLen)
	buf.Write(pcm)

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}
