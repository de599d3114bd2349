package reporting

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// ErrParentGone is the cause recorded on a watchdog context once the
// watched process has exited.
var ErrParentGone = errors.New("parent process exited")

// WatchParent returns a context that is cancelled when process pid is gone.
// A pid <= 0 watches the current parent. When pid is the current parent, a
// change of os.Getppid (reparenting) also counts as gone.
func WatchParent(ctx context.Context, pid int, interval time.Duration) (context.Context, context.CancelFunc) {
	if pid <= 0 {
		pid = os.Getppid()
	}
	if interval <= 0 {
		interval = time.Second
	}
	watchReparent := os.Getppid() == pid

	wctx, cancel := context.WithCancelCause(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-ticker.C:
				if (watchReparent && os.Getppid() != pid) || !processAlive(pid) {
					cancel(ErrParentGone)
					return
				}
			}
		}
	}()
	return wctx, func() { cancel(context.Canceled) }
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
