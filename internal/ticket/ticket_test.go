package ticket

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/me/testfleet/pkg/model"
)

func sample() model.WorkItem {
	return model.WorkItem{
		Tag:       "durability",
		TestIDs:   []string{"T1", "T2"},
		Parallel:  true,
		Ticket:    "EX-1",
		Targets:   []string{"10.0.0.1", "10.0.0.2"},
		Build:     "4.2.0",
		BuildType: "release",
		TestPlan:  "TP-7",
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sample())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Errorf("Decode = %+v, want %+v", got, sample())
	}
}

func TestEncode_WireFieldNames(t *testing.T) {
	data, err := Encode(model.WorkItem{Tag: "A", TestIDs: []string{"T1"}, Ticket: "EX-1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"tag", "test_set", "te_ticket", "targets", "build", "build_type", "test_plan", "parallel"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("field %q missing from %s", field, data)
		}
	}
	if raw["build"] != model.DefaultBuild {
		t.Errorf("build = %v, want default", raw["build"])
	}
	if _, ok := raw["test_set"].([]any); !ok {
		t.Errorf("test_set is not an array: %s", data)
	}
	if targets, ok := raw["targets"].([]any); !ok || len(targets) != 0 {
		t.Errorf("targets = %v, want empty array", raw["targets"])
	}
}

func TestEncode_RejectsEmptyWork(t *testing.T) {
	if _, err := Encode(model.WorkItem{TestIDs: []string{"T1"}, Ticket: "EX"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty tag: err = %v, want ErrInvalid", err)
	}
	if _, err := Encode(model.WorkItem{Tag: "A", Ticket: "EX"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty test_set: err = %v, want ErrInvalid", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"tag":`},
		{"missing field", `{"tag":"A","test_set":[],"te_ticket":"EX","targets":[],"build":"000","build_type":"","parallel":false}`},
		{"wrong type", `{"tag":"A","test_set":"T1","te_ticket":"EX","targets":[],"build":"000","build_type":"","test_plan":"","parallel":false}`},
		{"extra field", `{"tag":"A","test_set":[],"te_ticket":"EX","targets":[],"build":"000","build_type":"","test_plan":"","parallel":false,"x":1}`},
		{"non-string member", `{"tag":"A","test_set":[1],"te_ticket":"EX","targets":[],"build":"000","build_type":"","test_plan":"","parallel":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Decode = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestStop(t *testing.T) {
	data, err := Encode(Stop())
	if err != nil {
		t.Fatalf("Encode(Stop): %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsStop() {
		t.Errorf("decoded %+v is not STOP", got)
	}
}

func TestDecode_PartialStop(t *testing.T) {
	got, err := Decode([]byte(`{"te_ticket":"STOP"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsStop() {
		t.Errorf("got %+v", got)
	}
	if _, err := Decode([]byte(`{"te_ticket":"EX-1"}`)); err == nil || !strings.Contains(err.Error(), "invalid ticket") {
		t.Errorf("partial non-STOP ticket accepted: %v", err)
	}
}
