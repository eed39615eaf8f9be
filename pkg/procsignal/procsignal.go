// Package procsignal implements the tree's blocking-disposition signal
// trap: SIGTERM/SIGINT/SIGQUIT/SIGCHLD/SIGUSR1 are blocked at process start
// so they queue instead of interrupting arbitrary syscalls, and the main
// loop consumes them synchronously via sigtimedwait together with a
// non-blocking reaping sweep.
package procsignal

import (
	"time"

	"golang.org/x/sys/unix"

	"lithos/pkg/errs"
)

// Set is the fixed signal set the tree blocks and waits on.
var Set = []unix.Signal{
	unix.SIGTERM,
	unix.SIGINT,
	unix.SIGQUIT,
	unix.SIGCHLD,
	unix.SIGUSR1,
}

// Trap blocks Set against the calling thread's signal mask so that a later
// Wait can consume them synchronously. Must be called before any goroutine
// that could receive these signals asynchronously is started, since Go's
// runtime applies signal masks per-thread and new OS threads inherit the
// mask at creation time.
func Trap() error {
	var sigset unix.Sigset_t
	for _, s := range Set {
		addSignal(&sigset, s)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &sigset, nil); err != nil {
		return errs.New(errs.Signal, "trap", "", err)
	}
	return nil
}

func addSignal(set *unix.Sigset_t, s unix.Signal) {
	set.Val[(s-1)/64] |= 1 << (uint(s-1) % 64)
}

// Wait blocks until one of Set arrives or timeout elapses, returning the
// received signal. A zero timeout waits indefinitely (pass the smallest
// representable positive duration to poll without blocking).
func Wait(timeout time.Duration) (unix.Signal, bool, error) {
	var sigset unix.Sigset_t
	for _, s := range Set {
		addSignal(&sigset, s)
	}
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	info, err := sigtimedwait(&sigset, ts)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, false, nil
		}
		return 0, false, errs.New(errs.Signal, "wait", "", err)
	}
	return unix.Signal(info), true, nil
}

// Reaped describes one child collected by ReapAll.
type Reaped struct {
	PID      int
	ExitCode int
	Signaled bool
	Signal   unix.Signal
}

// ReapAll drains every exited child via non-blocking waitpid, the
// companion to Wait(SIGCHLD): a single SIGCHLD can coalesce multiple
// deaths, so every delivery must be followed by a reaping sweep until
// ECHILD or no more zombies remain.
func ReapAll() ([]Reaped, error) {
	var out []Reaped
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.ECHILD {
				return out, nil
			}
			return out, errs.New(errs.Process, "reap", "", err)
		}
		if pid <= 0 {
			return out, nil
		}
		r := Reaped{PID: pid}
		switch {
		case ws.Exited():
			r.ExitCode = ws.ExitStatus()
		case ws.Signaled():
			r.Signaled = true
			r.Signal = ws.Signal()
		}
		out = append(out, r)
	}
}
