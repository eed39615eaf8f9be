package tree

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"lithos/internal/procfs"
	"lithos/pkg/config"
	"lithos/pkg/logging"
	"lithos/pkg/metrics"
)

// adoptionGrace is the per-PID window a freshly-forked child is given to
// execve into the knot binary before its cmdline is judged unidentified.
const adoptionGrace = 1 * time.Second

// adopt walks /proc for children of our own PID and reconciles each one
// against the desired set. It mutates t.slots in place, sends SIGTERM to
// unidentified or superseded children itself, and returns only a /proc
// scan error.
func (t *Tree) adopt() error {
	selfPID := os.Getpid()
	deadline := time.Now().Add(adoptionGrace)
	t.unknownThisPass = 0
	defer func() { metrics.UnknownProcessesTotal.Set(float64(t.unknownThisPass)) }()

	for {
		candidates, err := procfs.ScanAll()
		if err != nil {
			return err
		}

		pending := false
		for _, c := range candidates {
			ppid, err := procfs.Ppid(c.PID)
			if err != nil || ppid != selfPID {
				continue
			}
			if t.adoptedPIDs[c.PID] {
				continue
			}
			if looksLikeOurOwnArgv(c.Cmdline) && time.Now().Before(deadline) {
				pending = true
				continue
			}
			t.reconcileCandidate(c)
		}
		if !pending {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
		if time.Now().After(deadline) {
			// Final pass: anything still not execve'd is unidentified.
			candidates, err := procfs.ScanAll()
			if err != nil {
				return err
			}
			for _, c := range candidates {
				ppid, err := procfs.Ppid(c.PID)
				if err != nil || ppid != selfPID || t.adoptedPIDs[c.PID] {
					continue
				}
				t.reconcileCandidate(c)
			}
			return nil
		}
	}
}

// looksLikeOurOwnArgv reports whether a candidate's cmdline still shows the
// tree's own argv[0] rather than having execve'd into the knot binary.
func looksLikeOurOwnArgv(cmdline []string) bool {
	if len(cmdline) == 0 {
		return false
	}
	return procfs.CommandBase(procfs.Candidate{Cmdline: cmdline}) == "lithos-tree"
}

func (t *Tree) reconcileCandidate(c procfs.Candidate) {
	expected := []string{t.knotBinary, "--name", "", "--master", t.opts.MasterPath, "--config", "", ""}
	if len(c.Cmdline) != len(expected) || c.Cmdline[0] != t.knotBinary || c.Cmdline[1] != "--name" || c.Cmdline[3] != "--master" || c.Cmdline[5] != "--config" {
		t.killUnidentified(c.PID, "argv shape mismatch")
		return
	}
	name := c.Cmdline[2]
	childJSON := c.Cmdline[6]
	if !procfs.MatchesExpectedArgv(c, append([]string{t.knotBinary, "--name", name, "--master", t.opts.MasterPath, "--config", childJSON}, "")) {
		t.killUnidentified(c.PID, "argv mismatch")
		return
	}

	inst, err := config.ParseInstance(name)
	if err != nil {
		t.killUnidentified(c.PID, "unparseable instance name")
		return
	}

	desired, ok := t.desired[inst.String()]
	t.adoptedPIDs[c.PID] = true
	metrics.KnotsRunning.Inc()

	switch {
	case ok && desired.JSON == childJSON:
		slot := t.slotFor(inst)
		slot.Desired = desired
		slot.PID = c.PID
		slot.State = StateRunning
		slot.StartedAt = time.Now().UnixNano()
		t.rescheduleAfterStart(slot, generousFirstDeadline)
		metrics.AdoptionsTotal.Inc()
		logging.Info("adopted " + inst.String())
	case ok:
		logging.Info("upgrading " + inst.String() + " (config changed)")
		slot := t.slotFor(inst)
		slot.Desired = desired
		slot.PID = c.PID
		slot.State = StateDraining
		_ = unix.Kill(c.PID, unix.SIGTERM)
	default:
		slot := t.slotFor(inst)
		slot.PID = c.PID
		slot.Unidentified = true
		slot.State = StateDraining
		t.unknownThisPass++
		_ = unix.Kill(c.PID, unix.SIGTERM)
		logging.Info("unidentified instance " + inst.String() + ", terminating")
	}
}

func (t *Tree) killUnidentified(pid int, reason string) {
	t.adoptedPIDs[pid] = true
	t.unknownThisPass++
	logging.Info("unidentified pid, terminating: " + reason)
	_ = unix.Kill(pid, unix.SIGTERM)
}

func (t *Tree) slotFor(inst config.Instance) *Slot {
	key := inst.String()
	s, ok := t.slots[key]
	if !ok {
		s = &Slot{Name: inst, State: StateEmpty}
		t.slots[key] = s
	}
	return s
}
