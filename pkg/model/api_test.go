package model

import "testing"

func TestTargetQuery_Matches(t *testing.T) {
	rec := &TargetRecord{ID: "host-a", Occupied: true, Holder: "w1"}
	tests := []struct {
		name  string
		query TargetQuery
		want  bool
	}{
		{"empty matches all", TargetQuery{}, true},
		{"id match", TargetQuery{ID: Ptr("host-a")}, true},
		{"id mismatch", TargetQuery{ID: Ptr("host-b")}, false},
		{"occupied match", TargetQuery{ID: Ptr("host-a"), Occupied: Ptr(true)}, true},
		{"free filter misses", TargetQuery{ID: Ptr("host-a"), Occupied: Ptr(false)}, false},
		{"holder mismatch", TargetQuery{Holder: Ptr("w2")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetPatch_Apply(t *testing.T) {
	rec := &TargetRecord{ID: "host-a"}
	TargetPatch{Occupied: Ptr(true), Holder: Ptr("w1")}.Apply(rec)
	if !rec.Occupied || rec.Holder != "w1" {
		t.Fatalf("after apply = %+v", rec)
	}
	if rec.State() != TargetStateOccupied {
		t.Errorf("State() = %s, want OCCUPIED", rec.State())
	}

	TargetPatch{Occupied: Ptr(false)}.Apply(rec)
	if rec.Holder != "w1" {
		t.Errorf("nil holder field should be untouched, got %q", rec.Holder)
	}
}

func TestTargetRecord_State(t *testing.T) {
	var nilRec *TargetRecord
	if nilRec.State() != TargetStateUnknown {
		t.Errorf("nil record state = %s, want UNKNOWN", nilRec.State())
	}
	if s := (&TargetRecord{ID: "host-a"}).State(); s != TargetStateFree {
		t.Errorf("state = %s, want FREE", s)
	}
}

func TestWorkItem_IsStop(t *testing.T) {
	item := WorkItem{Ticket: StopTicket}
	if !item.IsStop() {
		t.Error("STOP ticket not recognized")
	}
	item.Ticket = "EXEC-1"
	if item.IsStop() {
		t.Error("regular ticket recognized as STOP")
	}
}
