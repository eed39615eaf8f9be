package config

import (
	"reflect"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"lithos/pkg/idrange"
)

func TestCheckUserMappingWithoutMap(t *testing.T) {
	allow := idrange.Set{{First: 1000, Count: 100}}
	if !CheckUserMapping(1050, nil, allow) {
		t.Fatal("expected in-range uid without a map to pass")
	}
	if CheckUserMapping(1, nil, allow) {
		t.Fatal("expected out-of-range uid without a map to fail")
	}
}

func TestCheckUserMappingWithMap(t *testing.T) {
	allow := idrange.Set{{First: 100000, Count: 65536}}
	m := []specs.LinuxIDMapping{{ContainerID: 0, HostID: 100000, Size: 65536}}
	if !CheckUserMapping(0, m, allow) {
		t.Fatal("expected inside-range uid with covered outside range to pass")
	}
	if CheckUserMapping(70000, m, allow) {
		t.Fatal("expected uid outside the inside range to fail")
	}
}

func TestCheckUserMappingOutsideNotCovered(t *testing.T) {
	allow := idrange.Set{{First: 100000, Count: 1000}}
	m := []specs.LinuxIDMapping{{ContainerID: 0, HostID: 100000, Size: 65536}}
	if CheckUserMapping(0, m, allow) {
		t.Fatal("expected mapping whose outside range exceeds allow_users to fail")
	}
}

func TestParseInstance(t *testing.T) {
	inst, err := ParseInstance("web/app.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Sandbox != "web" || inst.Process != "app" || inst.Index != 3 {
		t.Fatalf("unexpected parse result: %+v", inst)
	}
	if inst.String() != "web/app.3" {
		t.Fatalf("round trip mismatch: %s", inst.String())
	}
	if inst.CgroupScope() != "web:app.3.scope" {
		t.Fatalf("unexpected cgroup scope: %s", inst.CgroupScope())
	}
}

func TestParseInstanceRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"web", "web/app", "web/app.x", "/app.0", "web/.0"} {
		if _, err := ParseInstance(bad); err == nil {
			t.Fatalf("expected error for malformed instance name %q", bad)
		}
	}
}

func TestCanonicalizeCoercesInstances(t *testing.T) {
	c := &ChildConfig{Image: "img", Config: "/etc/container.yaml", Instances: 5, Kind: KindDaemon}
	cc := Canonicalize(c)
	if cc.Instances != 1 {
		t.Fatalf("expected canonicalized instances=1, got %d", cc.Instances)
	}
	if c.Instances != 5 {
		t.Fatal("Canonicalize must not mutate its argument")
	}
}

func TestEncodeDecodeChildConfigRoundTrips(t *testing.T) {
	c := &ChildConfig{Image: "img", Config: "/etc/container.yaml", Instances: 1, Kind: KindDaemon}
	s, err := EncodeChildConfig(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeChildConfig(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
}

func TestEncodeChildConfigIsOrderStable(t *testing.T) {
	c := &ChildConfig{Image: "img", Config: "/c.yaml", Instances: 1, Kind: KindDaemon}
	a, _ := EncodeChildConfig(c)
	b, _ := EncodeChildConfig(c)
	if a != b {
		t.Fatalf("expected stable encoding, got %q vs %q", a, b)
	}
}
