// Package cgroup manages the lithos cgroup hierarchy: the tree's own
// self-placement into the configured parent cgroup, and per-instance scope
// cgroups the knot joins before exec. Built on containerd/cgroups' v1 API,
// which already wraps the controller-file bookkeeping buildah and runc
// hand-roll themselves.
package cgroup

import (
	"fmt"
	"path/filepath"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/errs"
)

// Manager owns one cgroup subtree rooted at a configured parent path, e.g.
// /lithos as named by MasterConfig.CgroupName.
type Manager struct {
	parent string
}

// New returns a Manager rooted at parentPath (MasterConfig.CgroupName,
// e.g. "/lithos"). It takes no controller list: every cgroup it creates or
// loads uses all v1 subsystems containerd/cgroups finds mounted.
func New(parentPath string) *Manager {
	return &Manager{parent: parentPath}
}

func (m *Manager) path(rel string) cgroups.Path {
	return cgroups.StaticPath(filepath.Join(m.parent, rel))
}

// EnsureSelfIn creates the tree's own cgroup under the parent path and
// moves the calling process into it, matching the supervisor's
// ensure_self_in operation: the tree lives inside its own cgroup so that
// its resource accounting doesn't mix with the knots it supervises.
func (m *Manager) EnsureSelfIn(pid int) error {
	control, err := cgroups.New(cgroups.V1, m.path("tree"), &specs.LinuxResources{})
	if err != nil {
		return errs.New(errs.Cgroup, "ensure-self-in", m.parent, err)
	}
	if err := control.Add(cgroups.Process{Pid: pid}); err != nil {
		return errs.New(errs.Cgroup, "ensure-self-in", m.parent, err)
	}
	return nil
}

// EnsureChild creates (or reuses) the scope cgroup for instance scopeName
// (Instance.CgroupScope), applying res as resource limits, and returns a
// handle the knot uses to join its own pid before exec and to remove the
// cgroup on exit.
func (m *Manager) EnsureChild(scopeName string, res *specs.LinuxResources) (*Child, error) {
	if res == nil {
		res = &specs.LinuxResources{}
	}
	control, err := cgroups.New(cgroups.V1, m.path(scopeName), res)
	if err != nil {
		return nil, errs.New(errs.Cgroup, "ensure-child", scopeName, err)
	}
	return &Child{control: control, name: scopeName}, nil
}

// Load attaches to an already-existing scope cgroup, such as one that
// survived a tree restart.
func (m *Manager) Load(scopeName string) (*Child, error) {
	control, err := cgroups.Load(cgroups.V1, m.path(scopeName))
	if err != nil {
		return nil, errs.New(errs.Cgroup, "load", scopeName, err)
	}
	return &Child{control: control, name: scopeName}, nil
}

// RemoveChild deletes scopeName's cgroup. Safe to call on a cgroup with no
// processes left in it; the tree's janitor calls this after reaping a
// knot's final exit.
func (m *Manager) RemoveChild(scopeName string) error {
	control, err := cgroups.Load(cgroups.V1, m.path(scopeName))
	if err != nil {
		if err == cgroups.ErrCgroupDeleted {
			return nil
		}
		return errs.New(errs.Cgroup, "remove-child", scopeName, err)
	}
	if err := control.Delete(); err != nil {
		return errs.New(errs.Cgroup, "remove-child", scopeName, err)
	}
	return nil
}

// Child is one instance's scope cgroup.
type Child struct {
	control cgroups.Cgroup
	name    string
}

// Join adds pid to this scope cgroup. The knot calls this on itself right
// before pivot_root + exec so the payload inherits the cgroup membership.
func (c *Child) Join(pid int) error {
	if err := c.control.Add(cgroups.Process{Pid: pid}); err != nil {
		return errs.New(errs.Cgroup, "join", c.name, err)
	}
	return nil
}

// Update changes the resource limits on an already-created scope.
func (c *Child) Update(res *specs.LinuxResources) error {
	if err := c.control.Update(res); err != nil {
		return errs.New(errs.Cgroup, "update", c.name, err)
	}
	return nil
}

// Pids lists the processes currently in this scope.
func (c *Child) Pids() ([]int, error) {
	procs, err := c.control.Processes(cgroups.Devices, false)
	if err != nil {
		return nil, errs.New(errs.Cgroup, "pids", c.name, err)
	}
	out := make([]int, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Pid)
	}
	return out, nil
}

func (c *Child) String() string {
	return fmt.Sprintf("cgroup(%s)", c.name)
}
