package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/me/testfleet/internal/logging"
)

// SupervisorConfig describes the reporting child process.
type SupervisorConfig struct {
	// Path is the executable; empty means the running binary.
	Path string
	// Args precede the generated flags, e.g. ["reporter"].
	Args []string
	// Addr is where the child listens.
	Addr string
	// Env is appended to the inherited environment.
	Env          []string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Supervisor runs the reporting endpoint as a child process that is given
// this process's pid so it exits when we do.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// NewSupervisor creates a Supervisor. Call Start to launch the child.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Supervisor{cfg: cfg, logger: logging.Component(logger, "supervisor")}
}

// Start launches the child and waits until its health endpoint answers.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cmd != nil {
		return errors.New("reporter already started")
	}
	path := s.cfg.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	args := append([]string{}, s.cfg.Args...)
	args = append(args, "--addr", s.cfg.Addr, "--parent-pid", strconv.Itoa(os.Getpid()))
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start reporter: %w", err)
	}
	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.err = cmd.Wait()
		close(s.exited)
	}()
	s.logger.Info("reporter started", "pid", cmd.Process.Pid, "addr", s.cfg.Addr)

	if err := s.waitHealthy(ctx); err != nil {
		_ = s.Stop(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (s *Supervisor) waitHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	client := NewClient(s.cfg.Addr, time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := client.Health(ctx); err == nil {
			s.logger.Debug("reporter healthy", "addr", s.cfg.Addr)
			return nil
		}
		select {
		case <-s.exited:
			return fmt.Errorf("reporter exited during startup: %v", s.err)
		case <-ctx.Done():
			return fmt.Errorf("reporter not healthy on %s: %w", s.cfg.Addr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Done is closed when the child has exited, whether stopped or crashed.
// It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	return s.exited
}

// Stop sends SIGTERM and waits; the child is killed if it outlives
// StopTimeout or ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cmd == nil {
		return nil
	}
	select {
	case <-s.exited:
		return nil
	default:
	}

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("signal reporter", "error", err)
	}
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.exited:
		s.logger.Info("reporter stopped", "pid", s.cmd.Process.Pid)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	s.logger.Warn("reporter did not stop, killing", "pid", s.cmd.Process.Pid)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill reporter: %w", err)
	}
	<-s.exited
	return nil
}
