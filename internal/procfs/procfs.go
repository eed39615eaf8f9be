// Package procfs scans /proc for the tree's adoption pass: matching live
// processes against the argv shape a knot was started with, so a tree
// restart can recover supervision of already-running knots instead of
// double-starting them. Built on prometheus/procfs, already pulled in
// transitively by the metrics stack, rather than hand-parsing /proc/<pid>
// files a second way.
package procfs

import (
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"lithos/pkg/errs"
)

// Candidate is one running process considered for adoption.
type Candidate struct {
	PID     int
	Cmdline []string
	StartedAt time.Time
}

// fs is the package-level procfs handle, opened against the default mount.
var fs procfs.FS

func init() {
	f, err := procfs.NewDefaultFS()
	if err == nil {
		fs = f
	}
}

// ScanAll returns every process currently visible under /proc, skipping
// any whose cmdline has already disappeared by the time it's read (a
// process that exited mid-scan).
func ScanAll() ([]Candidate, error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, errs.New(errs.Adoption, "scan", "/proc", err)
	}
	var out []Candidate
	for _, p := range procs {
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			PID:       p.PID,
			Cmdline:   cmdline,
			StartedAt: bootRelative(stat.Starttime),
		})
	}
	return out, nil
}

// bootRelative is a placeholder conversion: it always returns the zero
// time, so Candidate.StartedAt carries no information. An exact wall-clock
// start time would require combining Starttime (clock ticks since boot)
// with the system boot time, which nothing here does.
func bootRelative(_ uint64) time.Time {
	return time.Time{}
}

// MatchesExpectedArgv implements the adoption rule: a candidate's
// cmdline must equal expected exactly, including the mandatory trailing
// empty-string marker knots append to their own argv specifically so this
// comparison cannot collide with a human-launched process that happens to
// share every other argument.
func MatchesExpectedArgv(c Candidate, expected []string) bool {
	if len(c.Cmdline) != len(expected) {
		return false
	}
	for i := range expected {
		if c.Cmdline[i] != expected[i] {
			return false
		}
	}
	return len(expected) > 0 && expected[len(expected)-1] == ""
}

// Ppid returns the parent pid of pid, used by the adoption scan to keep
// only candidates that are direct children of the calling tree.
func Ppid(pid int) (int, error) {
	p, err := fs.Proc(pid)
	if err != nil {
		return 0, errs.New(errs.Adoption, "ppid", "", err)
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, errs.New(errs.Adoption, "ppid", "", err)
	}
	return stat.PPID, nil
}

// CommandBase returns the final path element of a candidate's argv[0], a
// cheap pre-filter before the full MatchesExpectedArgv comparison.
func CommandBase(c Candidate) string {
	if len(c.Cmdline) == 0 {
		return ""
	}
	parts := strings.Split(c.Cmdline[0], "/")
	return parts[len(parts)-1]
}
