package audio_test

import (
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

func TestMuLawSilenceDecodesToZero(t *testing.T) {
	if got := audio.DecodeMuLaw(audio.MuLawSilence); got != 0 {
		t.Fatalf("DecodeMuLaw(0xFF) = %d, want 0", got)
	}
	if got := audio.EncodeMuLaw(0); got != audio.MuLawSilence {
		t.Fatalf("EncodeMuLaw(0) = %#x, want 0xFF", got)
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if b == 0x7F {
			// Negative zero; re-encodes as positive zero.
			continue
		}
		if got := audio.EncodeMuLaw(audio.DecodeMuLaw(b)); got != b {
			t.Errorf("round trip %#x -> %d -> %#x", b, audio.DecodeMuLaw(b), got)
		}
	}
}

func TestEncodeMuLaw_Clips(t *testing.T) {
	if audio.EncodeMuLaw(32767) != audio.EncodeMuLaw(32635) {
		t.Error("positive overflow should clip")
	}
	if audio.EncodeMuLaw(-32768) != audio.EncodeMuLaw(-32635) {
		t.Error("negative overflow should clip")
	}
}

func TestSilenceFrame(t *testing.T) {
	f := audio.SilenceFrame(160)
	if len(f) != 160 {
		t.Fatalf("len = %d, want 160", len(f))
	}
	for i, b := range f {
		if b != audio.MuLawSilence {
			t.Fatalf("byte %d = %#x, want 0xFF", i, b)
		}
	}
}

func TestRampIn(t *testing.T) {
	// 0x00 is the loudest negative μ-law code.
	data := make([]byte, 12)
	pos := audio.RampIn(data, 0, 8)
	if pos != 8 {
		t.Fatalf("pos = %d, want 8", pos)
	}
	if data[0] != audio.MuLawSilence {
		t.Errorf("first sample = %#x, want silence", data[0])
	}
	prev := int16(0)
	for i := 1; i < 8; i++ {
		s := audio.DecodeMuLaw(data[i])
		if s > prev {
			t.Errorf("sample %d = %d louder-negative expected (prev %d)", i, s, prev)
		}
		prev = s
	}
	for i := 8; i < 12; i++ {
		if data[i] != 0x00 {
			t.Errorf("sample %d modified past ramp end: %#x", i, data[i])
		}
	}
}

func TestRampIn_SpansChunks(t *testing.T) {
	a := make([]byte, 3)
	b := make([]byte, 3)
	pos := audio.RampIn(a, 0, 4)
	pos = audio.RampIn(b, pos, 4)
	if pos != 4 {
		t.Fatalf("pos = %d, want 4", pos)
	}
	if b[1] != 0x00 || b[2] != 0x00 {
		t.Errorf("bytes after ramp end changed: %v", b)
	}
}

func TestRampIn_Disabled(t *testing.T) {
	data := []byte{0x00, 0x10}
	if pos := audio.RampIn(data, 0, 0); pos != 0 {
		t.Errorf("pos = %d, want 0", pos)
	}
	if data[0] != 0x00 || data[1] != 0x10 {
		t.Errorf("data modified with zero-length ramp: %v", data)
	}
}
