package voiceagent_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		wantKind voiceagent.Kind
		wantType string
	}{
		{"empty", nil, voiceagent.KindEmpty, ""},
		{"welcome", []byte(`{"type":"Welcome","request_id":"x"}`), voiceagent.KindControl, "Welcome"},
		{"leading whitespace", []byte("\n  {\"type\":\"SettingsApplied\"}"), voiceagent.KindControl, "SettingsApplied"},
		{"object without type", []byte(`{"foo":1}`), voiceagent.KindControl, ""},
		{"non-string type", []byte(`{"type":7}`), voiceagent.KindControl, ""},
		{"array", []byte(`[1,2,3]`), voiceagent.KindControl, ""},
		{"truncated json", []byte(`{"type":"Welcome"`), voiceagent.KindAudio, ""},
		{"scalar json", []byte(`42`), voiceagent.KindAudio, ""},
		{"string json", []byte(`"hello"`), voiceagent.KindAudio, ""},
		{"mulaw silence", bytes.Repeat([]byte{0xFF}, 160), voiceagent.KindAudio, ""},
		{"brace then binary", []byte{'{', 0xFF, 0xFE, '}'}, voiceagent.KindAudio, ""},
		{"zero bytes", []byte{0, 0, 0}, voiceagent.KindAudio, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := voiceagent.Classify(tc.data)
			if msg.Kind != tc.wantKind {
				t.Errorf("Kind = %s, want %s", msg.Kind, tc.wantKind)
			}
			if msg.Type != tc.wantType {
				t.Errorf("Type = %q, want %q", msg.Type, tc.wantType)
			}
			if tc.wantKind != voiceagent.KindEmpty && !bytes.Equal(msg.Data, tc.data) {
				t.Error("Data was modified")
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		[]byte(`{"type":"FunctionCallRequest"}`),
		{0x7F, 0x00, 0x80, '{'},
		[]byte(`[`),
	}
	for _, in := range inputs {
		first := voiceagent.Classify(in)
		for i := 0; i < 50; i++ {
			if got := voiceagent.Classify(in); got.Kind != first.Kind || got.Type != first.Type {
				t.Fatalf("Classify(%q) changed between calls: %v vs %v", in, first, got)
			}
		}
	}
}
