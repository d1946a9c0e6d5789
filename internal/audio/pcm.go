package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// bytesPerSample is fixed: everything is decoded to signed 16-bit.
const bytesPerSample = 2

// Format is the PCM layout a sink plays.
type Format struct {
	SampleRate int
	Channels   int
}

// PCM is decoded, interleaved, signed 16-bit little-endian audio. Data may
// alias a cache entry and must not be modified.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Format returns the layout of p.
func (p PCM) Format() Format {
	return Format{SampleRate: p.SampleRate, Channels: p.Channels}
}

func (p PCM) frameSize() int {
	return p.Channels * bytesPerSample
}

// Frames returns the number of whole frames.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Data) / p.frameSize()
}

// Duration returns the playing time of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Chunks splits p into buffers of at most frames frames. The buffers alias
// p.Data.
func (p PCM) Chunks(frames int) [][]byte {
	if frames <= 0 {
		frames = 1024
	}
	size := frames * p.frameSize()
	if size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, len(p.Data)/size+1)
	for off := 0; off < len(p.Data); off += size {
		chunks = append(chunks, p.Data[off:min(off+size, len(p.Data))])
	}
	return chunks
}

// ApplyVolume returns chunk scaled by volume in [0, 1]. A volume of 1
// returns chunk itself; otherwise a new buffer is allocated.
func ApplyVolume(chunk []byte, volume float64) []byte {
	if volume >= 1 {
		return chunk
	}
	out := make([]byte, len(chunk)&^1)
	if volume <= 0 {
		return out
	}
	for i := 0; i+1 < len(chunk); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(chunk[i:])))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(math.Round(s*volume))))
	}
	return out
}

// Resample converts p to the target layout using linear interpolation.
// Channel counts are mapped by duplicating mono or averaging down to mono;
// other combinations reuse source channels in order.
func Resample(p PCM, to Format) PCM {
	if to.SampleRate <= 0 || to.Channels <= 0 || p.Format() == to {
		return p
	}

	src := p.samples()
	inFrames := p.Frames()
	outFrames := int(int64(inFrames) * int64(to.SampleRate) / int64(p.SampleRate))
	if outFrames == 0 || inFrames == 0 {
		return PCM{SampleRate: to.SampleRate, Channels: to.Channels}
	}

	out := make([]byte, outFrames*to.Channels*bytesPerSample)
	step := float64(p.SampleRate) / float64(to.SampleRate)

	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i0 := int(pos)
		i1 := min(i0+1, inFrames-1)
		frac := pos - float64(i0)

		for c := 0; c < to.Channels; c++ {
			a := mapChannel(src, i0, p.Channels, c, to.Channels)
			b := mapChannel(src, i1, p.Channels, c, to.Channels)
			v := a + (b-a)*frac
			binary.LittleEndian.PutUint16(out[(f*to.Channels+c)*bytesPerSample:], uint16(clamp16(v)))
		}
	}

	return PCM{Data: out, SampleRate: to.SampleRate, Channels: to.Channels}
}

// samples returns the interleaved samples as floats.
func (p PCM) samples() []float64 {
	n := p.Frames() * p.Channels
	s := make([]float64, n)
	for i := range s {
		s[i] = float64(int16(binary.LittleEndian.Uint16(p.Data[i*bytesPerSample:])))
	}
	return s
}

// mapChannel reads output channel c of frame f from a source with inCh
// channels.
func mapChannel(src []float64, f, inCh, c, outCh int) float64 {
	base := f * inCh
	if outCh == 1 && inCh > 1 {
		var sum float64
		for i := 0; i < inCh; i++ {
			sum += src[base+i]
		}
		return sum / float64(inCh)
	}
	return src[base+c%inCh]
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
