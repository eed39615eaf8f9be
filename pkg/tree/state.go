// Package tree implements the root supervisor: the desired-state set, the
// adoption scan, the restart-deadline scheduler, and the signal-driven
// main loop.
package tree

import (
	"path/filepath"
	"strings"

	"lithos/pkg/config"
	"lithos/pkg/errs"
	"lithos/pkg/timerqueue"
)

// SlotState is one instance's position in the reconciliation state machine.
type SlotState string

const (
	StateEmpty     SlotState = "empty"
	StateScheduled SlotState = "scheduled"
	StateRunning   SlotState = "running"
	StateCooldown  SlotState = "cooldown"
	StateDraining  SlotState = "draining"
)

// DesiredEntry is one element of the desired set D: an instance name paired
// with its canonicalized (Instances coerced to 1) ChildConfig and that
// config's deterministic JSON encoding, which the adoption scan and the
// reload diff both compare against.
type DesiredEntry struct {
	Instance config.Instance
	Sandbox  string
	Child    *config.ChildConfig
	JSON     string
}

// DesiredSet maps an instance's canonical name to its desired entry.
type DesiredSet map[string]*DesiredEntry

// BuildDesiredSet scans every sandbox under sandboxesDir, loads its process
// manifest from processesDir, and expands ChildConfig.Instances into one
// DesiredEntry per replica.
func BuildDesiredSet(sandboxesDir, processesDir string) (DesiredSet, error) {
	matches, err := filepath.Glob(filepath.Join(sandboxesDir, "*.yaml"))
	if err != nil {
		return nil, errs.New(errs.Config, "build-desired-set", sandboxesDir, err)
	}

	out := DesiredSet{}
	for _, sandboxPath := range matches {
		sandboxName := strings.TrimSuffix(filepath.Base(sandboxPath), filepath.Ext(sandboxPath))
		manifestPath := filepath.Join(processesDir, sandboxName+".yaml")
		children, err := config.LoadChildren(manifestPath)
		if err != nil {
			return nil, err
		}
		for processName, child := range children {
			canon := config.Canonicalize(child)
			js, err := config.EncodeChildConfig(canon)
			if err != nil {
				return nil, errs.New(errs.Config, "build-desired-set", manifestPath, err)
			}
			for i := 0; i < child.Instances; i++ {
				inst := config.Instance{Sandbox: sandboxName, Process: processName, Index: i}
				out[inst.String()] = &DesiredEntry{
					Instance: inst,
					Sandbox:  sandboxName,
					Child:    canon,
					JSON:     js,
				}
			}
		}
	}
	return out, nil
}

// Slot is the tree's live bookkeeping for one instance name, independent of
// whether that name currently appears in the desired set.
type Slot struct {
	Name    config.Instance
	State   SlotState
	Desired *DesiredEntry

	PID          int
	StartedAt    int64 // unix nanos, monotonic-ish via time.Now().UnixNano()
	FailureCount int

	Timer *timerqueue.Entry

	// Unidentified marks a slot created purely to track a PID the tree
	// could not match to any desired entry, so it can still be reaped
	// and its SIGTERM outcome observed.
	Unidentified bool
}

// IsLive reports whether the slot currently owns a PID the tree has not
// yet reaped.
func (s *Slot) IsLive() bool { return s.PID != 0 }
