package mountutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirCreatesNested(t *testing.T) {
	dir := t.TempDir() + "/a/b/c"
	require.NoError(t, EnsureDir(dir, 0755))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestBindRecRequiresRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("bind mounts require root")
	}
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, BindRec(src, dst))
	require.NoError(t, Unmount(dst))
}
