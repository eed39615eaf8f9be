package knot

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/config"
	"lithos/pkg/errs"
)

// execPayload replaces the knot process image with the payload, the
// terminal step of the non-restart-in-place startup path: a Command-kind
// container or a plain Daemon simply becomes its payload, so the tree sees
// the knot's own pid exit with the payload's exit status. There is no fork
// here, so the declared uid/gid (and uid_map/gid_map, if present) must be
// installed on this process in place before the exec, not handed to the
// kernel via SysProcAttr the way runOnce does it.
func execPayload(argv, env []string, c *config.ContainerConfig) error {
	runtime.LockOSThread()
	if err := openPayloadStdio(c.StdoutStderrFile); err != nil {
		return err
	}
	if err := dropPrivileges(c); err != nil {
		return err
	}
	if err := syscall.Exec(argv[0], argv, env); err != nil {
		return errs.New(errs.Process, "exec", argv[0], err)
	}
	return nil
}

// runOnce forks, execs, and waits for the payload, used by the
// restart-in-place loop where the knot itself must keep running across
// payload restarts. The declared uid/gid and uid_map/gid_map are installed
// via SysProcAttr, which the kernel applies to the forked child between
// fork and exec.
func runOnce(argv, env []string, c *config.ContainerConfig) error {
	var stdout, stderr *os.File
	if c.StdoutStderrFile != "" {
		f, err := os.OpenFile(c.StdoutStderrFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errs.New(errs.Process, "run-once", c.StdoutStderrFile, err)
		}
		defer f.Close()
		stdout, stderr = f, f
	} else {
		stdout, stderr = os.Stdout, os.Stderr
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = childCredentials(c)

	if err := cmd.Run(); err != nil {
		return errs.New(errs.Process, "run-once", argv[0], err)
	}
	return nil
}

func openPayloadStdio(stdoutStderrFile string) error {
	if stdoutStderrFile == "" {
		return nil
	}
	f, err := os.OpenFile(stdoutStderrFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errs.New(errs.Process, "open-stdio", stdoutStderrFile, err)
	}
	defer f.Close()
	if err := syscall.Dup2(int(f.Fd()), 1); err != nil {
		return errs.New(errs.Process, "open-stdio", stdoutStderrFile, err)
	}
	if err := syscall.Dup2(int(f.Fd()), 2); err != nil {
		return errs.New(errs.Process, "open-stdio", stdoutStderrFile, err)
	}
	return nil
}

// childCredentials builds the SysProcAttr that installs a container's
// declared user_id/group_id, and, when uid_map/gid_map is present, a new
// user namespace mapping those ids to the host range, on a forked child
// before it execs.
func childCredentials(c *config.ContainerConfig) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: c.UserID, Gid: c.GroupID},
	}
	if len(c.UIDMap) > 0 || len(c.GIDMap) > 0 {
		attr.Cloneflags = syscall.CLONE_NEWUSER
		attr.UidMappings = idMappings(c.UIDMap)
		attr.GidMappings = idMappings(c.GIDMap)
	}
	return attr
}

func idMappings(m []specs.LinuxIDMapping) []syscall.SysProcIDMap {
	out := make([]syscall.SysProcIDMap, len(m))
	for i, e := range m {
		out[i] = syscall.SysProcIDMap{ContainerID: int(e.ContainerID), HostID: int(e.HostID), Size: int(e.Size)}
	}
	return out
}

// dropPrivileges installs a container's declared user_id/group_id (and, if
// present, its uid_map/gid_map user namespace) on the calling process in
// place. Unshare must run before the namespace's uid_map/gid_map are
// written, and both must be written before setgid/setuid, since once the
// process holds the mapped (unprivileged) ids it can no longer write them.
func dropPrivileges(c *config.ContainerConfig) error {
	if len(c.UIDMap) > 0 || len(c.GIDMap) > 0 {
		if err := installIDMaps(c.UIDMap, c.GIDMap); err != nil {
			return err
		}
	}
	if err := syscall.Setgid(int(c.GroupID)); err != nil {
		return errs.New(errs.Process, "setgid", "", err)
	}
	if err := syscall.Setuid(int(c.UserID)); err != nil {
		return errs.New(errs.Process, "setuid", "", err)
	}
	return nil
}

func installIDMaps(uidMap, gidMap []specs.LinuxIDMapping) error {
	if err := syscall.Unshare(syscall.CLONE_NEWUSER); err != nil {
		return errs.New(errs.Process, "unshare-newuser", "", err)
	}
	if err := os.WriteFile("/proc/self/setgroups", []byte("deny"), 0644); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.Process, "setgroups-deny", "", err)
	}
	if len(gidMap) > 0 {
		if err := os.WriteFile("/proc/self/gid_map", formatIDMap(gidMap), 0644); err != nil {
			return errs.New(errs.Process, "write-gid-map", "", err)
		}
	}
	if len(uidMap) > 0 {
		if err := os.WriteFile("/proc/self/uid_map", formatIDMap(uidMap), 0644); err != nil {
			return errs.New(errs.Process, "write-uid-map", "", err)
		}
	}
	return nil
}

func formatIDMap(m []specs.LinuxIDMapping) []byte {
	var b strings.Builder
	for _, e := range m {
		fmt.Fprintf(&b, "%d %d %d\n", e.ContainerID, e.HostID, e.Size)
	}
	return []byte(b.String())
}
