package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/intakecall/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767})))
	if len(got) != 1 || got[0] != 32767 {
		t.Fatalf("got %v, want [32767]", got)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_TelephonyUpsample(t *testing.T) {
	// 2 samples at 8kHz -> 4 samples at 16kHz.
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 8000, 16000))
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if got[1] != 1500 {
		t.Errorf("interpolated sample: got %d, want 1500", got[1])
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{100, 200, 300, 400}), 16000, 8000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 300 {
		t.Errorf("got %v, want [100 300]", got)
	}
}

func TestNormalizer(t *testing.T) {
	tests := []struct {
		name    string
		pcm     []byte
		src     audio.Format
		wantLen int
	}{
		{"internal passthrough", samplesToBytes([]int16{1, 2, 3, 4}), audio.Internal, 8},
		{"zero format means internal", samplesToBytes([]int16{1, 2}), audio.Format{}, 4},
		{"48k stereo", samplesToBytes(make([]int16, 96*2)), audio.Format{SampleRate: 48000, Channels: 2}, 64},
		{"8k mono", samplesToBytes(make([]int16, 80)), audio.Format{SampleRate: 8000, Channels: 1}, 320},
		{"odd bytes dropped", []byte{1, 2, 3}, audio.Internal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n audio.Normalizer
			if got := len(n.Normalize(tt.pcm, tt.src)); got != tt.wantLen {
				t.Errorf("got %d bytes, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestPlaybackDuration(t *testing.T) {
	tests := []struct {
		bytes int
		want  time.Duration
	}{
		{0, 0},
		{-5, 0},
		{32000, time.Second},
		{3200, 100 * time.Millisecond},
		{48000, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := audio.PlaybackDuration(tt.bytes); got != tt.want {
			t.Errorf("PlaybackDuration(%d) = %v, want %v", tt.bytes, got, tt.want)
		}
	}
}

func TestSilence(t *testing.T) {
	s := audio.Silence(100 * time.Millisecond)
	if len(s) != 3200 {
		t.Fatalf("got %d bytes, want 3200", len(s))
	}
	for i, b := range s {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}
