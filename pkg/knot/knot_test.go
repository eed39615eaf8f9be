package knot

import (
	"testing"

	"lithos/pkg/config"
)

func TestBuildEnvironSortsDeclaredKeys(t *testing.T) {
	env := buildEnviron("web/app.0", map[string]string{"Z": "1", "A": "2"}, []string{"SECRET=shh"})
	if env[0] != "LITHOS_NAME=web/app.0" {
		t.Fatalf("expected LITHOS_NAME first, got %v", env)
	}
	foundA, foundZ := -1, -1
	for i, e := range env {
		if e == "A=2" {
			foundA = i
		}
		if e == "Z=1" {
			foundZ = i
		}
	}
	if foundA == -1 || foundZ == -1 || foundA > foundZ {
		t.Fatalf("expected A before Z in sorted environ, got %v", env)
	}
	if env[len(env)-1] != "SECRET=shh" {
		t.Fatalf("expected secret env last, got %v", env)
	}
}

func TestCgroupResourcesOmitsUnsetLimits(t *testing.T) {
	res := cgroupResources(&config.ContainerConfig{})
	if res.Memory != nil || res.CPU != nil {
		t.Fatalf("expected nil limits for zero-value container config, got %+v", res)
	}
}

func TestCgroupResourcesSetsMemoryAndCPU(t *testing.T) {
	res := cgroupResources(&config.ContainerConfig{MemoryLimit: 1 << 20, CPUShares: 512})
	if res.Memory == nil || *res.Memory.Limit != 1<<20 {
		t.Fatalf("expected memory limit set, got %+v", res.Memory)
	}
	if res.CPU == nil || *res.CPU.Shares != 512 {
		t.Fatalf("expected cpu shares set, got %+v", res.CPU)
	}
}
