package tree

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"lithos/pkg/cgroup"
	"lithos/pkg/config"
)

func TestMaybeRemoveStateDirKeepsLiveSlot(t *testing.T) {
	dir := t.TempDir()
	instDir := filepath.Join(dir, "web", "server.0")
	require.NoError(t, os.MkdirAll(instDir, 0755))

	tr := &Tree{
		master: &config.MasterConfig{StateDir: dir},
		slots: map[string]*Slot{
			"web:server.0": {
				Name:  config.Instance{Sandbox: "web", Process: "server", Index: 0},
				State: StateRunning,
				PID:   1234,
			},
		},
	}

	tr.maybeRemoveStateDir("web", "server.0", instDir)
	_, err := os.Stat(instDir)
	require.NoError(t, err, "a live slot's state dir must survive the sweep")
}

func TestMaybeRemoveStateDirRemovesOrphan(t *testing.T) {
	dir := t.TempDir()
	instDir := filepath.Join(dir, "web", "server.0")
	require.NoError(t, os.MkdirAll(instDir, 0755))

	tr := &Tree{
		master: &config.MasterConfig{StateDir: dir},
		slots:  map[string]*Slot{},
	}

	tr.maybeRemoveStateDir("web", "server.0", instDir)
	_, err := os.Stat(instDir)
	require.True(t, os.IsNotExist(err), "an orphaned state dir with no matching slot must be removed")
}

func TestMaybeRemoveStateDirKeepsLiveCommandPid(t *testing.T) {
	dir := t.TempDir()
	name := "cmd.worker." + strconv.Itoa(os.Getpid())
	instDir := filepath.Join(dir, "web", name)
	require.NoError(t, os.MkdirAll(instDir, 0755))

	tr := &Tree{master: &config.MasterConfig{StateDir: dir}, slots: map[string]*Slot{}}
	tr.maybeRemoveStateDir("web", name, instDir)

	_, err := os.Stat(instDir)
	require.NoError(t, err, "a cmd.* dir for a still-alive pid must be kept regardless of slot bookkeeping")
}

func TestMaybeRemoveCgroupScopeKeepsLiveSlot(t *testing.T) {
	tr := &Tree{
		cgroups: cgroup.New("lithos"),
		slots: map[string]*Slot{
			"web:server.0": {
				Name:  config.Instance{Sandbox: "web", Process: "server", Index: 0},
				State: StateRunning,
				PID:   1234,
			},
		},
	}
	// No live cgroup backing this in the test environment; the match on
	// the live slot must short-circuit before any cgroup filesystem call.
	tr.maybeRemoveCgroupScope("web:server.0.scope")
}

func TestInstanceScopeRegexMatchesAndExtractsFields(t *testing.T) {
	m := instanceScopeRE.FindStringSubmatch("web:server.3.scope")
	require.NotNil(t, m)
	require.Equal(t, "web", m[1])
	require.Equal(t, "server", m[2])
	require.Equal(t, "3", m[3])

	require.Nil(t, instanceScopeRE.FindStringSubmatch("not-a-scope"))
}

func TestCmdScopeRegexMatchesPid(t *testing.T) {
	m := cmdScopeRE.FindStringSubmatch("web:cmd.migrate.5555.scope")
	require.NotNil(t, m)
	require.Equal(t, "web", m[1])
	require.Equal(t, "5555", m[2])
}
