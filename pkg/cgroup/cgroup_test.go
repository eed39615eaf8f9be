package cgroup

import (
	"os"
	"testing"
)

func TestEnsureSelfInRequiresCgroupfs(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("cgroup management requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup"); err != nil {
		t.Skip("no cgroupfs available in this environment")
	}
	m := New("/lithos-test")
	if err := m.EnsureSelfIn(os.Getpid()); err != nil {
		t.Fatalf("EnsureSelfIn: %v", err)
	}
}
