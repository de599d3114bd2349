package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// CommandExecutor runs a configured command once per test id. The command
// arguments may use the placeholders {test}, {target}, {build},
// {build_type}, {ticket} and {test_plan}. Output of each run is written to
// a per-test log file, which becomes the result's artifact.
type CommandExecutor struct {
	command     []string
	workDir     string
	maxParallel int
	logger      *slog.Logger
	now         func() time.Time
}

// NewCommandExecutor creates a CommandExecutor. If cfg.WorkDir is empty a
// directory under os.TempDir() is used.
func NewCommandExecutor(cfg config.ExecutorConfig, logger *slog.Logger) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("executor command is empty")
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "testfleet")
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &CommandExecutor{
		command:     append([]string(nil), cfg.Command...),
		workDir:     workDir,
		maxParallel: maxParallel,
		logger:      logging.Component(logger, "executor"),
		now:         time.Now,
	}, nil
}

// Run executes req. Parallel requests run up to maxParallel tests at once;
// sequential requests run one after another in order.
func (e *CommandExecutor) Run(ctx context.Context, req Request) ([]model.TestResult, error) {
	runDir := filepath.Join(e.workDir, safeName(buildOrDefault(req.Build)), safeName(req.Ticket))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("ticket %s: create run dir: %w", req.Ticket, err)
	}

	results := make([]model.TestResult, len(req.TestIDs))
	ran := make([]bool, len(req.TestIDs))

	if req.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		for i, id := range req.TestIDs {
			i, id := i, id
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res, err := e.runOne(gctx, req, id, runDir)
				if err != nil {
					return err
				}
				results[i] = res
				ran[i] = true
				return nil
			})
		}
		err := g.Wait()
		return collect(results, ran), err
	}

	for i, id := range req.TestIDs {
		if err := ctx.Err(); err != nil {
			return collect(results, ran), err
		}
		res, err := e.runOne(ctx, req, id, runDir)
		if err != nil {
			return collect(results, ran), err
		}
		results[i] = res
		ran[i] = true
	}
	return results, nil
}

func collect(results []model.TestResult, ran []bool) []model.TestResult {
	out := make([]model.TestResult, 0, len(results))
	for i, r := range results {
		if ran[i] {
			out = append(out, r)
		}
	}
	return out
}

// runOne runs a single test. Test failures are results, not errors; an
// error is returned only when ctx ended the run.
func (e *CommandExecutor) runOne(ctx context.Context, req Request, testID, runDir string) (model.TestResult, error) {
	res := model.TestResult{
		TestID:    testID,
		Ticket:    req.Ticket,
		Target:    req.Target,
		Build:     buildOrDefault(req.Build),
		StartedAt: e.now().UTC(),
		Artifact:  filepath.Join(runDir, safeName(testID)+".log"),
	}

	logFile, err := os.Create(res.Artifact)
	if err != nil {
		res.Status = model.TestStatusError
		e.logger.Error("create test log", "test_id", testID, "error", err)
		return res, nil
	}
	defer logFile.Close()

	args := expand(e.command, req, testID)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = runDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.WaitDelay = 5 * time.Second

	e.logger.Debug("running test", "test_id", testID, "target", req.Target, "command", args)
	runErr := cmd.Run()
	res.Duration = e.now().UTC().Sub(res.StartedAt)

	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.Status = model.TestStatusPassed
	case errors.As(runErr, &exitErr):
		res.Status = model.TestStatusFailed
	default:
		res.Status = model.TestStatusError
		fmt.Fprintf(logFile, "testfleet: %v\n", runErr)
	}

	e.logger.Info("test finished",
		"test_id", testID,
		"target", req.Target,
		"status", res.Status,
		"duration", res.Duration,
	)
	return res, nil
}

func expand(command []string, req Request, testID string) []string {
	r := strings.NewReplacer(
		"{test}", testID,
		"{target}", req.Target,
		"{build}", buildOrDefault(req.Build),
		"{build_type}", req.BuildType,
		"{ticket}", req.Ticket,
		"{test_plan}", req.TestPlan,
	)
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = r.Replace(arg)
	}
	return out
}

func buildOrDefault(build string) string {
	if build == "" {
		return model.DefaultBuild
	}
	return build
}

// safeName maps an identifier to a single path element.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
