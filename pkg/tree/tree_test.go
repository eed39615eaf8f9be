package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lithos/pkg/config"
)

func TestCountSandboxesDeduplicatesBySandboxName(t *testing.T) {
	d := DesiredSet{
		"web:server.0": {Sandbox: "web"},
		"web:server.1": {Sandbox: "web"},
		"db:main.0":    {Sandbox: "db"},
	}
	require.Equal(t, float64(2), countSandboxes(d))
}

func TestRefreshStateMetricsDoesNotPanic(t *testing.T) {
	tr := &Tree{slots: map[string]*Slot{
		"a": {State: StateRunning},
		"b": {State: StateScheduled},
		"c": {State: StateRunning},
	}}
	tr.refreshStateMetrics()
}

func TestSlotForCreatesEmptySlotOnce(t *testing.T) {
	tr := &Tree{
		desired: DesiredSet{},
		slots:   map[string]*Slot{},
	}
	inst := config.Instance{Sandbox: "web", Process: "server", Index: 0}

	s1 := tr.slotFor(inst)
	require.Equal(t, StateEmpty, s1.State)
	s1.PID = 42

	s2 := tr.slotFor(inst)
	require.Same(t, s1, s2, "slotFor must return the same slot on repeated lookups")
}
