package blob

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	content []byte
	calls   []string
}

func (a *fakeArchiver) Archive(archivePath, dir string) error {
	a.calls = append(a.calls, dir)
	return os.WriteFile(archivePath, a.content, 0644)
}

func TestFromBytes(t *testing.T) {
	f := FromBytes("template.yml", []byte("name: x\n"))

	assert.Equal(t, "template.yml", f.Name)
	assert.Equal(t, int64(8), f.Size)
	assert.False(t, f.IsZero())

	r, err := f.Open()
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "name: x\n", string(data))
}

func TestFile_Open_Repeatable(t *testing.T) {
	f := FromBytes("a.bin", []byte{1, 2, 3})

	for i := 0; i < 2; i++ {
		r, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
		require.NoError(t, r.Close())
	}
}

func TestFile_Open_NoContent(t *testing.T) {
	var f File

	assert.True(t, f.IsZero())
	_, err := f.Open()
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestFromPath_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mine.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	archiver := &fakeArchiver{}

	f, err := FromPath(path, archiver, pathutil.NewPathProvider(), ".tar.zst")
	require.NoError(t, err)

	assert.Equal(t, "mine.json", f.Name)
	assert.Equal(t, int64(2), f.Size)
	assert.Equal(t, path, f.Path())
	assert.Empty(t, archiver.calls)
}

func TestFromPath_Directory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dataset")
	require.NoError(t, os.MkdirAll(dir, 0755))
	archiver := &fakeArchiver{content: []byte("archived")}

	f, err := FromPath(dir, archiver, pathutil.NewPathProvider(), ".tar.zst")
	require.NoError(t, err)

	assert.Equal(t, "dataset.tar.zst", f.Name)
	assert.Equal(t, int64(len("archived")), f.Size)
	assert.Equal(t, []string{dir}, archiver.calls)
}

func TestFromPath_Missing(t *testing.T) {
	_, err := FromPath("/does/not/exist", &fakeArchiver{}, pathutil.NewPathProvider(), ".tar.zst")
	assert.Error(t, err)
}
