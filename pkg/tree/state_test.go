package tree

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestBuildDesiredSetExplodesInstances(t *testing.T) {
	dir := t.TempDir()
	sandboxesDir := filepath.Join(dir, "sandboxes")
	processesDir := filepath.Join(dir, "processes")

	writeYAML(t, filepath.Join(sandboxesDir, "web.yaml"), "allow_users: \"1000\"\nimage_dir: /var/lib/lithos/images\n")
	writeYAML(t, filepath.Join(processesDir, "web.yaml"), `
server:
  image: latest
  config: /etc/lithos/container.yaml
  instances: 3
  kind: Daemon
worker:
  image: latest
  config: /etc/lithos/container.yaml
  instances: 1
  kind: Command
`)

	d, err := BuildDesiredSet(sandboxesDir, processesDir)
	require.NoError(t, err)
	require.Len(t, d, 4)

	for i := 0; i < 3; i++ {
		key := "web/server." + strconv.Itoa(i)
		entry, ok := d[key]
		require.True(t, ok, "missing %s", key)
		require.Equal(t, "web", entry.Sandbox)
		require.Equal(t, 1, entry.Child.Instances, "canonicalized child must coerce Instances to 1")
	}
	require.Contains(t, d, "web/worker.0")
}

func TestBuildDesiredSetSameConfigProducesIdenticalJSON(t *testing.T) {
	dir := t.TempDir()
	sandboxesDir := filepath.Join(dir, "sandboxes")
	processesDir := filepath.Join(dir, "processes")

	writeYAML(t, filepath.Join(sandboxesDir, "web.yaml"), "allow_users: \"1000\"\nimage_dir: /var/lib/lithos/images\n")
	writeYAML(t, filepath.Join(processesDir, "web.yaml"), `
server:
  image: latest
  config: /etc/lithos/container.yaml
  instances: 2
  kind: Daemon
`)

	d, err := BuildDesiredSet(sandboxesDir, processesDir)
	require.NoError(t, err)
	require.Equal(t, d["web/server.0"].JSON, d["web/server.1"].JSON)
}

func TestBuildDesiredSetMissingManifestErrors(t *testing.T) {
	dir := t.TempDir()
	sandboxesDir := filepath.Join(dir, "sandboxes")
	processesDir := filepath.Join(dir, "processes")

	writeYAML(t, filepath.Join(sandboxesDir, "web.yaml"), "allow_users: \"1000\"\nimage_dir: /var/lib/lithos/images\n")

	_, err := BuildDesiredSet(sandboxesDir, processesDir)
	require.Error(t, err)
}
