package knot

import "testing"

func TestParseArgsRoundTripsArgv(t *testing.T) {
	args := []string{"--name", "web/app.0", "--master", "/etc/lithos/master.yaml", "--config", "{}", ""}
	o, err := ParseArgs(args)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if o.Name != "web/app.0" || o.MasterPath != "/etc/lithos/master.yaml" || o.ConfigJSON != "{}" {
		t.Fatalf("unexpected options: %+v", o)
	}
	got := Argv("/usr/local/bin/lithos-knot", o)
	want := []string{"/usr/local/bin/lithos-knot", "--name", "web/app.0", "--master", "/etc/lithos/master.yaml", "--config", "{}", ""}
	if len(got) != len(want) {
		t.Fatalf("argv length mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestParseArgsRequiresName(t *testing.T) {
	if _, err := ParseArgs([]string{"--master", "m", "--config", "c", ""}); err == nil {
		t.Fatal("expected error when --name is missing")
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	if _, err := ParseArgs([]string{"--bogus"}); err == nil {
		t.Fatal("expected error for unrecognized flag")
	}
}
