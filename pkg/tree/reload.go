package tree

import (
	"golang.org/x/sys/unix"

	"lithos/pkg/logging"
)

// reload handles SIGQUIT reconfiguration: recompute the desired set from
// disk, then diff against the live one and act only on the differences,
// so a malformed new manifest never partially corrupts it.
func (t *Tree) reload() {
	newDesired, err := BuildDesiredSet(t.master.SandboxesDir, t.master.ProcessesDir)
	if err != nil {
		logging.Errorf(err, "reload: failed to build new desired set, keeping current configuration")
		return
	}

	old := t.desired
	t.desired = newDesired
	t.recordAppliedManifests(newDesired)

	for key, entry := range newDesired {
		prev, existed := old[key]
		switch {
		case !existed:
			t.enqueue(entry.Instance, smallJitter())
		case prev.JSON != entry.JSON:
			t.terminateForUpgrade(key, entry)
		}
	}

	for key, prev := range old {
		if _, stillDesired := newDesired[key]; !stillDesired {
			t.terminateForRemoval(key, prev)
		}
	}
}

func (t *Tree) terminateForUpgrade(key string, entry *DesiredEntry) {
	slot, ok := t.slots[key]
	if !ok || !slot.IsLive() {
		t.enqueue(entry.Instance, smallJitter())
		return
	}
	slot.State = StateDraining
	slot.Desired = entry
	_ = unix.Kill(slot.PID, unix.SIGTERM)
}

func (t *Tree) terminateForRemoval(key string, prev *DesiredEntry) {
	slot, ok := t.slots[key]
	if !ok {
		return
	}
	if !slot.IsLive() {
		t.forgetSlot(slot)
		return
	}
	slot.State = StateDraining
	slot.Desired = nil
	_ = unix.Kill(slot.PID, unix.SIGTERM)
}
