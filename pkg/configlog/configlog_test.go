package configlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndImagesDedup(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "web")

	m1 := map[string]struct{ Image string }{"app": {Image: "img-a"}}
	m2 := map[string]struct{ Image string }{"app": {Image: "img-b"}}

	require.NoError(t, w.Append(m1))
	require.NoError(t, w.Append(m2))
	require.NoError(t, w.Append(m2)) // repeat, should not count twice

	r := NewReader(dir, "web")
	images, err := r.Images(2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"img-b", "img-a"}, images)
}

func TestImagesRespectsN(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "web")
	for _, img := range []string{"a", "b", "c"} {
		require.NoError(t, w.Append(map[string]struct{ Image string }{"app": {Image: img}}))
	}
	r := NewReader(dir, "web")
	images, err := r.Images(1)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, images)
}

func TestImagesOnMissingLogReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(dir, "nonexistent")
	images, err := r.Images(5)
	require.NoError(t, err)
	require.Empty(t, images)
}
