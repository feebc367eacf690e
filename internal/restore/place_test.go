package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash(t *testing.T) {
	fsys := afero.NewOsFs()
	tmpPath := filepath.Join(t.TempDir(), "test.txt")

	require.NoError(t, os.WriteFile(tmpPath, []byte("test content"), 0644))

	hash1, err := fileHash(fsys, tmpPath)
	require.NoError(t, err)

	// Verify hash is consistent
	hash2, err := fileHash(fsys, tmpPath)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)

	// Verify hash changes when content changes
	require.NoError(t, os.WriteFile(tmpPath, []byte("different content"), 0644))
	hash3, err := fileHash(fsys, tmpPath)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash3, "hash should change when content changes")
}

func TestCopyFile(t *testing.T) {
	fsys := afero.NewOsFs()
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	dstPath := filepath.Join(tmpDir, "dst.txt")
	mod := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)

	content := []byte("hello world")
	require.NoError(t, os.WriteFile(srcPath, content, 0755))
	require.NoError(t, copyFile(fsys, srcPath, dstPath, mod))

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	srcInfo, err := os.Stat(srcPath)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode(), dstInfo.Mode())
	assert.True(t, dstInfo.ModTime().Equal(mod), "mtime = %v, want %v", dstInfo.ModTime(), mod)
	assert.False(t, os.SameFile(srcInfo, dstInfo), "copy must not share the source inode")

	// No temp files are left behind
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCopyFile_NonExistentSource(t *testing.T) {
	tmpDir := t.TempDir()
	err := copyFile(afero.NewOsFs(), filepath.Join(tmpDir, "no-such-file"), filepath.Join(tmpDir, "dst"), time.Now())
	assert.Error(t, err)
}

func TestSameContent(t *testing.T) {
	fsys := afero.NewOsFs()
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	a := write("a", "same bytes")
	b := write("b", "same bytes")
	c := write("c", "diff bytes")
	d := write("d", "longer content")
	linked := filepath.Join(dir, "linked")
	require.NoError(t, os.Link(a, linked))

	tests := []struct {
		name string
		x, y string
		want bool
	}{
		{name: "identical copies", x: a, y: b, want: true},
		{name: "hard link", x: a, y: linked, want: true},
		{name: "same size different bytes", x: a, y: c, want: false},
		{name: "different size", x: a, y: d, want: false},
		{name: "directory", x: a, y: dir, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sameContent(fsys, tc.x, tc.y)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := sameContent(fsys, a, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSameContent_MemFs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/a", []byte("xyz"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/b", []byte("xyz"), 0644))

	same, err := sameContent(fsys, "/a", "/b")
	require.NoError(t, err)
	assert.True(t, same, "expected identical in-memory files to compare equal")
}

func TestNearestExisting(t *testing.T) {
	dir := t.TempDir()

	got, err := NearestExisting(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	got, err = NearestExisting(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestSameDevice(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.Mkdir(in, 0755))

	same, err := SameDevice(in, filepath.Join(dir, "out", "not", "yet"))
	require.NoError(t, err)
	assert.True(t, same, "sibling directories should be on the same device")
}
