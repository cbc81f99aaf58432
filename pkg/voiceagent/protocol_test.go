package voiceagent_test

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

func TestFunctionCallRequest_Invocations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    []string // "id/name"
	}{
		{
			name:    "functions array",
			payload: `{"type":"FunctionCallRequest","functions":[{"id":"a","name":"get_services","arguments":"{}","client_side":true},{"id":"b","name":"check_availability","arguments":{"date":"2026-01-01"}}]}`,
			want:    []string{"a/get_services", "b/check_availability"},
		},
		{
			name:    "server side skipped",
			payload: `{"type":"FunctionCallRequest","functions":[{"id":"a","name":"x","client_side":false},{"id":"b","name":"y","client_side":true}]}`,
			want:    []string{"b/y"},
		},
		{
			name:    "flat shape",
			payload: `{"type":"FunctionCall","id":"abc","name":"get_services","arguments":"{}"}`,
			want:    []string{"abc/get_services"},
		},
		{
			name:    "legacy shape",
			payload: `{"type":"FunctionCallRequest","function_call_id":"f1","function_name":"cancel_booking","input":{"booking_id":"9"}}`,
			want:    []string{"f1/cancel_booking"},
		},
		{
			name:    "nothing",
			payload: `{"type":"FunctionCallRequest"}`,
			want:    nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var req voiceagent.FunctionCallRequest
			if err := json.Unmarshal([]byte(tc.payload), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got := req.Invocations()
			if len(got) != len(tc.want) {
				t.Fatalf("got %d invocations, want %d", len(got), len(tc.want))
			}
			for i, inv := range got {
				if id := inv.ID + "/" + inv.Name; id != tc.want[i] {
					t.Errorf("[%d] = %s, want %s", i, id, tc.want[i])
				}
			}
		})
	}
}

func TestDecodeArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"empty", ``, 0, false},
		{"null", `null`, 0, false},
		{"empty string", `""`, 0, false},
		{"string encoded", `"{\"date\":\"today\"}"`, 1, false},
		{"object", `{"a":1,"b":"x"}`, 2, false},
		{"array", `[1]`, 0, true},
		{"garbage string", `"not json"`, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			args, err := voiceagent.DecodeArguments(json.RawMessage(tc.raw))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && len(args) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(args), tc.wantLen)
			}
			if !tc.wantErr && args == nil {
				t.Error("args is nil, want empty map")
			}
		})
	}
}

func TestResultsTranscript(t *testing.T) {
	t.Parallel()

	var r voiceagent.Results
	if err := json.Unmarshal([]byte(`{"is_final":true,"channel":{"alternatives":[{"transcript":"book a haircut","confidence":0.9}]}}`), &r); err != nil {
		t.Fatal(err)
	}
	if !r.IsFinal || r.Transcript() != "book a haircut" {
		t.Errorf("got final=%v transcript=%q", r.IsFinal, r.Transcript())
	}
	if (voiceagent.Results{}).Transcript() != "" {
		t.Error("empty results should have empty transcript")
	}
}

func TestErrorEventText(t *testing.T) {
	t.Parallel()

	if got := (voiceagent.ErrorEvent{Description: "d", Message: "m"}).Text(); got != "d" {
		t.Errorf("Text = %q", got)
	}
	if got := (voiceagent.ErrorEvent{Message: "m"}).Text(); got != "m" {
		t.Errorf("Text = %q", got)
	}
	if got := (voiceagent.ErrorEvent{}).Text(); got != "unspecified" {
		t.Errorf("Text = %q", got)
	}
}
