package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/pkg/model"
)

func newTestExecutor(t *testing.T, maxParallel int, command ...string) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor(config.ExecutorConfig{
		Command:     command,
		WorkDir:     t.TempDir(),
		MaxParallel: maxParallel,
	}, nil)
	if err != nil {
		t.Fatalf("NewCommandExecutor: %v", err)
	}
	return e
}

func TestNewCommandExecutorRequiresCommand(t *testing.T) {
	if _, err := NewCommandExecutor(config.ExecutorConfig{}, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRunSequential(t *testing.T) {
	e := newTestExecutor(t, 1, "sh", "-c", `echo "run {test} on {target} build {build}/{build_type}"; [ "{test}" != "T2" ]`)

	results, err := e.Run(context.Background(), Request{
		Ticket:    "TE-1",
		TestIDs:   []string{"T1", "T2", "pkg/T3"},
		Target:    "10.0.0.5",
		BuildType: "release",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	want := []model.TestStatus{model.TestStatusPassed, model.TestStatusFailed, model.TestStatusPassed}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("%s: status = %s, want %s", r.TestID, r.Status, want[i])
		}
		if r.Ticket != "TE-1" || r.Target != "10.0.0.5" || r.Build != model.DefaultBuild {
			t.Errorf("%s: result = %+v", r.TestID, r)
		}
	}

	log, err := os.ReadFile(results[0].Artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if got := strings.TrimSpace(string(log)); got != "run T1 on 10.0.0.5 build 000/release" {
		t.Errorf("artifact = %q", got)
	}
	if strings.Contains(results[2].Artifact[len(e.workDir):], "pkg/T3") {
		t.Errorf("artifact path not flattened: %s", results[2].Artifact)
	}
}

func TestRunParallel(t *testing.T) {
	e := newTestExecutor(t, 4, "sh", "-c", "sleep 0.3")
	ids := []string{"A", "B", "C", "D"}

	start := time.Now()
	results, err := e.Run(context.Background(), Request{Ticket: "TE-2", TestIDs: ids, Parallel: true, Build: "7"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("parallel run took %v, expected the tests to overlap", elapsed)
	}
	for i, r := range results {
		if r.TestID != ids[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.TestID, ids[i])
		}
		if r.Status != model.TestStatusPassed {
			t.Errorf("%s: status = %s", r.TestID, r.Status)
		}
		if r.Build != "7" {
			t.Errorf("%s: build = %s", r.TestID, r.Build)
		}
	}
}

func TestRunMissingBinaryIsError(t *testing.T) {
	e := newTestExecutor(t, 1, "/nonexistent/testfleet-runner", "{test}")
	results, err := e.Run(context.Background(), Request{Ticket: "TE-3", TestIDs: []string{"T1"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Status != model.TestStatusError {
		t.Fatalf("results = %+v", results)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newTestExecutor(t, 1, "sleep", "10")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := e.Run(ctx, Request{Ticket: "TE-4", TestIDs: []string{"T1", "T2"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not stop the running test")
	}
}

func TestExpand(t *testing.T) {
	got := expand([]string{"pytest", "{test}", "--target={target}", "--plan={test_plan}", "{ticket}"},
		Request{Target: "h1", TestPlan: "P", Ticket: "TE-9"}, "t::x")
	want := []string{"pytest", "t::x", "--target=h1", "--plan=P", "TE-9"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}
}
