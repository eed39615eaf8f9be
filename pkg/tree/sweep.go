package tree

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"lithos/pkg/logging"
)

// sweepStateDirs removes any per-instance state directory that doesn't
// correspond to a known live slot. A "cmd.<name>.<pid>" directory for a
// still-alive pid is kept even if the slot bookkeeping doesn't recognize
// it. Knots name their own state dirs "<process>.<index>" for every kind,
// so such pid-named dirs are never created by this tree's knots.
func (t *Tree) sweepStateDirs() {
	sandboxDirs, err := os.ReadDir(t.master.StateDir)
	if err != nil {
		return
	}
	for _, sandboxEntry := range sandboxDirs {
		if !sandboxEntry.IsDir() {
			continue
		}
		sandboxPath := filepath.Join(t.master.StateDir, sandboxEntry.Name())
		instanceDirs, err := os.ReadDir(sandboxPath)
		if err != nil {
			continue
		}
		for _, inst := range instanceDirs {
			if !inst.IsDir() {
				continue
			}
			t.maybeRemoveStateDir(sandboxEntry.Name(), inst.Name(), filepath.Join(sandboxPath, inst.Name()))
		}
	}
}

var cmdStateDirRE = regexp.MustCompile(`^cmd\.[\w-]+\.(\d+)$`)

func (t *Tree) maybeRemoveStateDir(sandbox, name, path string) {
	if m := cmdStateDirRE.FindStringSubmatch(name); m != nil {
		pid, _ := strconv.Atoi(m[1])
		if pid != 0 && processAlive(pid) {
			return
		}
		_ = os.RemoveAll(path)
		return
	}

	for _, slot := range t.slots {
		if slot.Name.Sandbox == sandbox && slot.Name.StateDir() == filepath.Join(sandbox, name) && slot.IsLive() {
			return
		}
	}
	if err := os.RemoveAll(path); err != nil {
		logging.Errorf(err, "state-dir sweep: failed to remove %s", path)
	}
}

// sweepCgroups removes instance-scope cgroups with no matching live slot,
// and cmd.* scopes for pids that are dead.
var (
	instanceScopeRE = regexp.MustCompile(`^([\w-]+):([\w-]+)\.(\d+)\.scope$`)
	cmdScopeRE      = regexp.MustCompile(`^([\w-]+):cmd\.[\w-]+\.(\d+)\.scope$`)
)

func (t *Tree) sweepCgroups() {
	if t.master.CgroupName == "" {
		return
	}
	root := "/sys/fs/cgroup"
	controllers := t.master.CgroupControllers
	if len(controllers) == 0 {
		controllers = []string{"memory"}
	}
	base := filepath.Join(root, controllers[0], t.master.CgroupName)
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t.maybeRemoveCgroupScope(e.Name())
	}
}

func (t *Tree) maybeRemoveCgroupScope(name string) {
	if m := cmdScopeRE.FindStringSubmatch(name); m != nil {
		pid, _ := strconv.Atoi(m[2])
		if pid != 0 && processAlive(pid) {
			return
		}
		_ = t.cgroups.RemoveChild(name)
		return
	}

	m := instanceScopeRE.FindStringSubmatch(name)
	if m == nil {
		return
	}
	sandbox, process, idxStr := m[1], m[2], m[3]
	idx, _ := strconv.Atoi(idxStr)
	for _, slot := range t.slots {
		if slot.Name.Sandbox == sandbox && slot.Name.Process == process && slot.Name.Index == idx && slot.IsLive() {
			return
		}
	}
	_ = t.cgroups.RemoveChild(name)
}
