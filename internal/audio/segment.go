package audio

import "time"

const (
	DefaultSampleRate = 16000
	MIMETypeWAV       = "audio/wav"
)

// Format is the fixed capture format requested from the input device.
type Format struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultFormat is mono 16 kHz PCM16 with platform echo cancellation and
// noise suppression requested where available.
func DefaultFormat() Format {
	return Format{
		SampleRate:       DefaultSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// BytesPerSecond returns the PCM16 data rate for f.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	sr := f.SampleRate
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	return sr * ch * bitsPerSample / 8
}

// Segment is one finalized unit of captured audio. It is uploaded once and
// then dropped.
type Segment struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Empty reports whether the segment carries no audio payload.
func (s Segment) Empty() bool { return len(s.Data) == 0 }

// Extension returns the file extension used when uploading the segment.
func (s Segment) Extension() string {
	switch s.MIMEType {
	case MIMETypeWAV, "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg":
		return "mp3"
	default:
		return "bin"
	}
}

// NewWAVSegment wraps concatenated PCM16LE bytes into a wav Segment.
// It returns false when pcm is empty.
func NewWAVSegment(pcm []byte, f Format) (Segment, bool, error) {
	if len(pcm) == 0 {
		return Segment{}, false, nil
	}
	data, err := EncodeWAVPCM16LE(pcm, f.SampleRate, f.Channels)
	if err != nil {
		return Segment{}, false, err
	}
	dur := time.Duration(len(pcm)) * time.Second / time.Duration(f.BytesPerSecond())
	return Segment{Data: data, MIMEType: MIMETypeWAV, Duration: dur}, true, nil
}

// PCM16ToBytes converts int16 samples to little-endian bytes.
func PCM16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
