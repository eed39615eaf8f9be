package procsignal

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestTrapAndWaitSIGUSR1(t *testing.T) {
	if testing.Short() {
		t.Skip("signal trapping requires a dedicated thread-locked goroutine")
	}
	if err := Trap(); err != nil {
		t.Fatalf("Trap: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		unix.Kill(os.Getpid(), unix.SIGUSR1)
	}()
	sig, ok, err := Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ok || sig != unix.SIGUSR1 {
		t.Fatalf("expected SIGUSR1, got %v ok=%v", sig, ok)
	}
}

func TestReapAllCollectsExitedChild(t *testing.T) {
	cmd := exec.Command("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start child: %v", err)
	}
	pid := cmd.Process.Pid
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reaped, err := ReapAll()
		if err != nil {
			t.Fatalf("ReapAll: %v", err)
		}
		for _, r := range reaped {
			if r.PID == pid {
				if r.Signaled || r.ExitCode != 0 {
					t.Fatalf("expected clean exit for pid %d, got %+v", pid, r)
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ReapAll never collected child pid %d", pid)
}
