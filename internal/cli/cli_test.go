package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/server"
	"github.com/me/testfleet/internal/store"
	"github.com/me/testfleet/internal/targetlock"
	"github.com/me/testfleet/pkg/model"
)

const universeYAML = `tests:
  - id: T1
    tags: [A, parallel]
  - id: T2
    tags: [A, parallel]
  - id: T3
    tags: [A]
  - id: T4
    tags: [A, skip]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagConfig, flagDebug, flagLogLevel, flagLogFormat = "", false, "info", "text"
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestPlanTable(t *testing.T) {
	universe := writeFile(t, "universe.yaml", universeYAML)
	out, err := run(t, "plan", "--universe", universe,
		"--test", "T1", "--test", "T2", "--test", "T3", "--test", "T4", "--ticket", "EX-1")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{"parallel", "sequential", "T1 T2", "EX-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "T4") {
		t.Errorf("skip-marked test planned:\n%s", out)
	}
}

func TestPlanJSON(t *testing.T) {
	universe := writeFile(t, "universe.yaml", universeYAML)
	out, err := run(t, "plan", "--universe", universe, "-o", "json",
		"--test", "T1", "--test", "T3", "--target", "10.0.0.1", "--build", "42")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var items []model.WorkItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Ticket != "adhoc" || items[0].Build != "42" || items[0].Targets[0] != "10.0.0.1" {
		t.Errorf("first item = %+v", items[0])
	}
}

func TestPlanRequiresTests(t *testing.T) {
	universe := writeFile(t, "universe.yaml", universeYAML)
	if _, err := run(t, "plan", "--universe", universe); err == nil {
		t.Fatal("expected error without --ticket or --test")
	}
	if _, err := run(t, "plan", "--universe", universe, "--ticket", "EX-1"); err == nil {
		t.Fatal("expected error resolving tickets without tracker.url")
	}
	if _, err := run(t, "plan", "--test", "T1"); err == nil {
		t.Fatal("expected error without --universe")
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	path := writeFile(t, "config.yaml", "classifier:\n  tie_break: random\n")
	_, err := run(t, "--config", path, "plan", "--test", "T1")
	if err == nil || !strings.Contains(err.Error(), "tie_break") {
		t.Fatalf("err = %v, want tie_break error", err)
	}
}

func TestCoordinateRequiresTarget(t *testing.T) {
	universe := writeFile(t, "universe.yaml", universeYAML)
	_, err := run(t, "coordinate", "--universe", universe, "--test", "T1")
	if err == nil || !strings.Contains(err.Error(), "--target") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnlock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.New(config.LockServerConfig{}, st, logger).Handler())
	t.Cleanup(ts.Close)

	holder := targetlock.NewService(targetlock.StoreBackend{Store: st}, "w1", logger)
	if ok, err := holder.Lock(context.Background(), "10.0.0.9"); err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}

	cfgPath := writeFile(t, "config.yaml", "lock:\n  backend: http\n  url: "+ts.URL+"\n")

	out, err := run(t, "--config", cfgPath, "unlock", "--holder", "w2", "10.0.0.9")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !strings.Contains(out, "10.0.0.9: not locked") {
		t.Errorf("wrong holder released the lock: %s", out)
	}

	out, err = run(t, "--config", cfgPath, "unlock", "10.0.0.9", "10.0.0.10")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !strings.Contains(out, "10.0.0.9: released") || !strings.Contains(out, "10.0.0.10: not locked") {
		t.Errorf("output = %s", out)
	}

	rec, err := st.GetTarget(context.Background(), "10.0.0.9")
	if err != nil || rec == nil || rec.Occupied {
		t.Errorf("target still occupied: %+v %v", rec, err)
	}
}

func TestUnlockFailsFastWhenLockStoreIsDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	deadURL := ts.URL
	ts.Close()

	cfgPath := writeFile(t, "config.yaml", "lock:\n  backend: http\n  url: "+deadURL+"\n  timeout: 2s\n")
	_, err := run(t, "--config", cfgPath, "unlock", "10.0.0.9")
	if err == nil {
		t.Fatal("expected an error with the lock store down")
	}
	if !errors.Is(err, targetlock.ErrUnreachable) || !strings.Contains(err.Error(), deadURL) {
		t.Errorf("err = %v, want lock store unreachable naming %s", err, deadURL)
	}
}
