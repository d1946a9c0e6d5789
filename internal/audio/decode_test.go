package audio

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vrct-tts/connector/internal/ttypes"
)

// silenceMP3 is ten silent MPEG-1 Layer III frames, 44.1 kHz stereo.
//
//go:embed testdata/silence.mp3
var silenceMP3 []byte

// makeWAV builds a 16-bit PCM RIFF file.
func makeWAV(rate, channels int, samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return riffWAV(1, rate, channels, 16, data)
}

// riffWAV wraps raw sample bytes in a RIFF/WAVE container with the given
// format tag and bit depth.
func riffWAV(format uint16, rate, channels, bits int, data []byte) []byte {
	blockAlign := channels * bits / 8

	buf := make([]byte, 0, 56+len(data))
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(48+len(data)))
	buf = append(buf, "WAVE"...)

	// An unrelated chunk ahead of fmt must be skipped.
	buf = append(buf, "JUNK"...)
	buf = binary.LittleEndian.AppendUint32(buf, 4)
	buf = append(buf, 0, 0, 0, 0)

	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, format)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rate*blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bits))

	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func tone(frames int, value int16) []int16 {
	s := make([]int16, frames)
	for i := range s {
		s[i] = value
	}
	return s
}

func TestDecode_WAV(t *testing.T) {
	wav := makeWAV(24000, 1, []int16{0, 1000, -1000, 32767})

	pcm, err := Decode(wav, ttypes.FormatWAV)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.SampleRate != 24000 || pcm.Channels != 1 || pcm.Frames() != 4 {
		t.Errorf("got %d Hz, %d ch, %d frames", pcm.SampleRate, pcm.Channels, pcm.Frames())
	}
	if got := int16(binary.LittleEndian.Uint16(pcm.Data[4:])); got != -1000 {
		t.Errorf("sample 2 = %d, want -1000", got)
	}
}

func TestDecode_WAV8Bit(t *testing.T) {
	pcm, err := Decode(riffWAV(1, 8000, 1, 8, []byte{128, 255, 0}), ttypes.FormatWAV)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.Frames() != 3 {
		t.Fatalf("frames = %d, want 3", pcm.Frames())
	}
	for i, want := range []int16{0, 32512, -32768} {
		if got := int16(binary.LittleEndian.Uint16(pcm.Data[i*2:])); got != want {
			t.Errorf("sample %d = %d, want %d", i, got, want)
		}
	}
}

func TestDecode_MP3(t *testing.T) {
	pcm, err := Decode(silenceMP3, ttypes.FormatMP3)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pcm.SampleRate != 44100 || pcm.Channels != 2 {
		t.Errorf("got %d Hz, %d ch", pcm.SampleRate, pcm.Channels)
	}
	if pcm.Frames() == 0 {
		t.Fatal("no frames decoded")
	}
	for i, b := range pcm.Data {
		if b != 0 {
			t.Fatalf("byte %d = %d, silent frames decoded to sound", i, b)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		format ttypes.AudioFormat
		want   error
	}{
		{"empty", nil, ttypes.FormatWAV, ErrEmptyAudio},
		{"not riff", []byte("ID3 definitely not wav"), ttypes.FormatWAV, ErrUnsupportedFormat},
		{"float samples", riffWAV(3, 8000, 1, 32, make([]byte, 8)), ttypes.FormatWAV, ErrUnsupportedFormat},
		{"unknown format", []byte("x"), "ogg", ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data, tt.format); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Decode(makeWAV(8000, 1, nil), ttypes.FormatWAV); err == nil {
		t.Error("wav without samples decoded without error")
	}
	if _, err := Decode([]byte("not an mp3 stream at all"), ttypes.FormatMP3); err == nil {
		t.Error("garbage mp3 decoded without error")
	}
}

func TestPCM_Chunks(t *testing.T) {
	pcm := PCM{Data: make([]byte, 2500*4), SampleRate: 48000, Channels: 2}

	chunks := pcm.Chunks(1024)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 1024*4 || len(chunks[2]) != (2500-2048)*4 {
		t.Errorf("chunk sizes %d/%d", len(chunks[0]), len(chunks[2]))
	}
}

func TestApplyVolume(t *testing.T) {
	chunk := makeWAV(8000, 1, []int16{1000, -2000})
	pcm, _ := Decode(chunk, ttypes.FormatWAV)

	half := ApplyVolume(pcm.Data, 0.5)
	if got := int16(binary.LittleEndian.Uint16(half[0:])); got != 500 {
		t.Errorf("sample 0 = %d, want 500", got)
	}
	if got := int16(binary.LittleEndian.Uint16(half[2:])); got != -1000 {
		t.Errorf("sample 1 = %d, want -1000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm.Data[0:])); got != 1000 {
		t.Error("ApplyVolume modified its input")
	}

	mute := ApplyVolume(pcm.Data, 0)
	for _, b := range mute {
		if b != 0 {
			t.Fatal("volume 0 is not silent")
		}
	}
}

func TestResample(t *testing.T) {
	src, _ := Decode(makeWAV(24000, 1, tone(240, 1200)), ttypes.FormatWAV)

	out := Resample(src, Format{SampleRate: 48000, Channels: 2})
	if out.SampleRate != 48000 || out.Channels != 2 {
		t.Fatalf("format = %+v", out.Format())
	}
	if out.Frames() != 480 {
		t.Errorf("frames = %d, want 480", out.Frames())
	}
	if out.Duration() != src.Duration() {
		t.Errorf("duration changed: %v -> %v", src.Duration(), out.Duration())
	}
	for i := 0; i < len(out.Data); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(out.Data[i:])); v != 1200 {
			t.Fatalf("sample %d = %d, want 1200", i/2, v)
		}
	}

	same := Resample(src, src.Format())
	if &same.Data[0] != &src.Data[0] {
		t.Error("resampling to the same format copied the data")
	}

	stereo := PCM{Data: make([]byte, 8), SampleRate: 8000, Channels: 2}
	binary.LittleEndian.PutUint16(stereo.Data[0:], uint16(100))
	binary.LittleEndian.PutUint16(stereo.Data[2:], uint16(300))
	mono := Resample(stereo, Format{SampleRate: 8000, Channels: 1})
	if v := int16(binary.LittleEndian.Uint16(mono.Data)); v != 200 {
		t.Errorf("downmix = %d, want 200", v)
	}
}
