package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/zaf/g711"
)

type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatULaw Format = "ulaw"
)

// ULawSampleRate is the only rate providers emit µ-law at.
const ULawSampleRate = 8000

func (f Format) String() string {
	return string(f)
}

// MIMEType is what the host sees when fetching the handle.
func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	case FormatULaw:
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}

// Ext is the file extension used by the on-disk speech cache.
func (f Format) Ext() string {
	if f == FormatULaw {
		return ".ulaw"
	}
	return "." + string(f)
}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "mp3", ".mp3":
		return FormatMP3, nil
	case "wav", ".wav":
		return FormatWAV, nil
	case "ulaw", ".ulaw", "ulaw_8000":
		return FormatULaw, nil
	}
	return "", fmt.Errorf("unknown audio format %q", s)
}

// Sniff guesses the container from the leading bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 4 && string(data[:4]) == "RIFF":
		return FormatWAV
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatULaw
}

// Decode opens the resource payload as a beep stream.
func Decode(res *Resource) (beep.StreamSeekCloser, beep.Format, error) {
	data, err := res.Bytes()
	if err != nil {
		return nil, beep.Format{}, err
	}
	return DecodeBytes(data, res.Format)
}

func DecodeBytes(data []byte, format Format) (beep.StreamSeekCloser, beep.Format, error) {
	switch format {
	case FormatMP3:
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case FormatWAV:
		return wav.Decode(bytes.NewReader(data))
	case FormatULaw:
		pcm := g711.DecodeUlaw(data)
		return newPCMStreamer(pcm), beep.Format{SampleRate: ULawSampleRate, NumChannels: 1, Precision: 2}, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", format)
	}
}

// Duration decodes the resource far enough to know how long it plays.
func Duration(res *Resource) (time.Duration, error) {
	streamer, format, err := Decode(res)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}

// pcmStreamer plays mono 16-bit little-endian PCM.
type pcmStreamer struct {
	samples []int16
	pos     int
}

func newPCMStreamer(pcm []byte) *pcmStreamer {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return &pcmStreamer{samples: samples}
}

func (p *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	if p.pos >= len(p.samples) {
		return 0, false
	}
	n := 0
	for n < len(out) && p.pos < len(p.samples) {
		v := float64(p.samples[p.pos]) / 32768
		out[n][0], out[n][1] = v, v
		n++
		p.pos++
	}
	return n, true
}

func (p *pcmStreamer) Err() error    { return nil }
func (p *pcmStreamer) Len() int      { return len(p.samples) }
func (p *pcmStreamer) Position() int { return p.pos }
func (p *pcmStreamer) Close() error  { return nil }

func (p *pcmStreamer) Seek(pos int) error {
	if pos < 0 || pos > len(p.samples) {
		return fmt.Errorf("seek %d out of range [0, %d]", pos, len(p.samples))
	}
	p.pos = pos
	return nil
}
