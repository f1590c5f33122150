package filesystem

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-extract-service/domain/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDir_CreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "uploads")

	d, err := NewDir(root)
	require.NoError(t, err)

	info, err := os.Stat(d.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewDir_EmptyPath(t *testing.T) {
	_, err := NewDir("  ")
	assert.Error(t, err)
}

func TestWriteAtomic_Success(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	n, err := d.WriteAtomic("abc123.mp4", strings.NewReader("video bytes"), 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := os.ReadFile(d.Path("abc123.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))
	assertOnlyFiles(t, d, "abc123.mp4")
}

func TestWriteAtomic_LimitExceededLeavesNothing(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = d.WriteAtomic("big.mp4", bytes.NewReader(make([]byte, 101)), 100)
	assert.ErrorIs(t, err, media.ErrTooLarge)
	assertOnlyFiles(t, d)
}

func TestWriteAtomic_ExactlyAtLimit(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	n, err := d.WriteAtomic("edge.mp4", bytes.NewReader(make([]byte, 100)), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assertOnlyFiles(t, d, "edge.mp4")
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), r.after)
	r.after -= n
	return n, nil
}

func TestWriteAtomic_ReadErrorLeavesNothing(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = d.WriteAtomic("broken.mp4", &failingReader{after: 64}, 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assertOnlyFiles(t, d)
}

func TestRemove(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	_, err = d.WriteAtomic("a.mp3", strings.NewReader("x"), -1)
	require.NoError(t, err)

	removed, err := d.Remove("a.mp3")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = d.Remove("a.mp3")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.False(t, d.Exists("a.mp3"))
}

func TestOpen(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	_, err = d.WriteAtomic("a.mp3", strings.NewReader("audio"), -1)
	require.NoError(t, err)

	f, info, err := d.Open("a.mp3")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), info.Size)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))

	_, _, err = d.Open("missing.mp3")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPath_StripsDirectories(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Root(), "passwd"), d.Path("../../etc/passwd"))
}

func TestEntries_MarksPendingFiles(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(d.Path("b.mp4"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(d.Path(".b.mp4123"), []byte("partial"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(d.Root(), "sub"), 0o755))

	entries, err := d.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ".b.mp4123", entries[0].Name)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, "b.mp4", entries[1].Name)
	assert.False(t, entries[1].Pending)
}

func assertOnlyFiles(t *testing.T, d *Dir, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if len(names) == 0 {
		assert.Empty(t, got)
		return
	}
	assert.ElementsMatch(t, names, got)
}
