package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/vrct-tts/connector/internal/ttypes"
)

var (
	// ErrUnsupportedFormat indicates the container or encoding cannot be decoded
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrEmptyAudio indicates there is nothing to decode or play
	ErrEmptyAudio = errors.New("audio data is empty")
)

// Decode converts synthesized audio into signed 16-bit little-endian PCM.
func Decode(data []byte, format ttypes.AudioFormat) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, ErrEmptyAudio
	}

	switch format {
	case ttypes.FormatWAV:
		return decodeWAV(data)
	case ttypes.FormatMP3:
		return decodeMP3(data)
	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// decodeMP3 uses go-mp3, which always yields 16-bit stereo.
func decodeMP3(data []byte) (PCM, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil && len(pcm) == 0 {
		return PCM{}, fmt.Errorf("mp3 decode: %w", err)
	}

	out := PCM{Data: pcm, SampleRate: decoder.SampleRate(), Channels: 2}
	out.Data = out.Data[:out.Frames()*out.frameSize()]
	if len(out.Data) == 0 {
		return PCM{}, ErrEmptyAudio
	}
	return out, nil
}

// decodeWAV reads a RIFF/WAVE container holding integer PCM of 8 to 32
// bits and narrows it to 16 bits.
func decodeWAV(data []byte) (PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return PCM{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return PCM{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	// 1 is PCM, 0xFFFE is WAVE_FORMAT_EXTENSIBLE
	if d.WavAudioFormat != 1 && d.WavAudioFormat != 0xFFFE {
		return PCM{}, fmt.Errorf("%w: encoding %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	if d.BitDepth%8 != 0 || d.BitDepth > 32 {
		return PCM{}, fmt.Errorf("%w: %d bits", ErrUnsupportedFormat, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("wav decode: %w", err)
	}

	out := PCM{Data: narrow(buf.Data, int(d.BitDepth)), SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	out.Data = out.Data[:out.Frames()*out.frameSize()]
	if len(out.Data) == 0 {
		return PCM{}, ErrEmptyAudio
	}
	return out, nil
}

// narrow converts decoded samples to signed 16-bit little-endian. 8-bit
// WAV samples are unsigned.
func narrow(samples []int, bits int) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, v := range samples {
		switch {
		case bits == 8:
			v = (v - 128) << 8
		case bits > 16:
			v >>= bits - 16
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}
