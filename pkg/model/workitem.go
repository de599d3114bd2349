package model

// DefaultBuild is used when a work item carries no build identifier.
const DefaultBuild = "000"

// StopTicket is the reserved execution-ticket value of the administrative
// stop message.
const StopTicket = "STOP"

// WorkItem is one unit of dispatchable work: either the full parallel batch
// of a tag or a single sequential-only test.
type WorkItem struct {
	Tag       string   `json:"tag"`
	TestIDs   []string `json:"test_set"`
	Parallel  bool     `json:"parallel"`
	Ticket    string   `json:"te_ticket"`
	Targets   []string `json:"targets"`
	Build     string   `json:"build"`
	BuildType string   `json:"build_type"`
	TestPlan  string   `json:"test_plan"`
}

// IsStop reports whether the item is the administrative stop message.
func (w *WorkItem) IsStop() bool {
	return w.Ticket == StopTicket
}
