package model

// TestStatus is the outcome of one executed test.
type TestStatus string

const (
	TestStatusPassed  TestStatus = "PASSED"
	TestStatusFailed  TestStatus = "FAILED"
	TestStatusError   TestStatus = "ERROR"
	TestStatusSkipped TestStatus = "SKIPPED"
)

// String returns the string representation of the test status.
func (s TestStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s TestStatus) IsValid() bool {
	switch s {
	case TestStatusPassed, TestStatusFailed, TestStatusError, TestStatusSkipped:
		return true
	}
	return false
}

// TargetState is the lock state of a test target. A target the store has
// never seen is UNKNOWN, and lock clients treat it as free.
type TargetState string

const (
	TargetStateUnknown  TargetState = "UNKNOWN"
	TargetStateFree     TargetState = "FREE"
	TargetStateOccupied TargetState = "OCCUPIED"
)
