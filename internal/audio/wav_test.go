package audio

import (
	"testing"
	"time"
)

func TestEncodeWAVHeaderRoundTrip(t *testing.T) {
	pcm := make([]byte, 3200)
	wav, err := EncodeWAVPCM16LE(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	info, err := ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.DataSize != len(pcm) {
		t.Fatalf("unexpected header: %+v", info)
	}
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	if _, err := ParseWAVHeader([]byte("not audio at all")); err != ErrNotWAV {
		t.Fatalf("ParseWAVHeader() error = %v, want %v", err, ErrNotWAV)
	}
}

func TestNewWAVSegment(t *testing.T) {
	f := DefaultFormat()
	if _, ok, err := NewWAVSegment(nil, f); ok || err != nil {
		t.Fatalf("NewWAVSegment(nil) = ok %v err %v, want empty", ok, err)
	}

	pcm := make([]byte, f.BytesPerSecond()*2)
	seg, ok, err := NewWAVSegment(pcm, f)
	if err != nil || !ok {
		t.Fatalf("NewWAVSegment() ok = %v err = %v", ok, err)
	}
	if seg.Duration != 2*time.Second {
		t.Fatalf("Duration = %v, want 2s", seg.Duration)
	}
	if seg.MIMEType != MIMETypeWAV || seg.Extension() != "wav" {
		t.Fatalf("unexpected mime/ext: %q %q", seg.MIMEType, seg.Extension())
	}
}

func TestPCM16ToBytesLittleEndian(t *testing.T) {
	got := PCM16ToBytes([]int16{0x0102, -1})
	want := []byte{0x02, 0x01, 0xff, 0xff}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
