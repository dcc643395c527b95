package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "d41d8cd98f00b204e9800998ecf8427e"},
		{"hello", "hello", "5d41402abc4b2a76b9719d911017c592"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sum([]byte(tt.content))
			assert.Len(t, got, 32)
			assert.Equal(t, strings.ToLower(got), got, "digest should be lowercase hex")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSum_SameContentSameSum(t *testing.T) {
	assert.Equal(t, Sum([]byte("abc")), Sum([]byte("abc")))
	assert.NotEqual(t, Sum([]byte("abc")), Sum([]byte("abd")))
}

func TestSumReader_MatchesSum(t *testing.T) {
	content := []byte("some file content\nwith two lines\n")

	got, err := SumReader(strings.NewReader(string(content)))
	require.NoError(t, err)
	assert.Equal(t, Sum(content), got)
}

func TestEngine_File_HashesAndMemoizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	engine, err := NewEngine(16)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)

	sum1, err := engine.File(path, info)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("first")), sum1)

	// Rewrite the content behind the engine's back but reuse the stale
	// stat info: the memo should answer without re-reading the file.
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))

	sum2, err := engine.File(path, info)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2, "memo should serve stale stat signatures")
}

func TestEngine_File_RecomputesOnStatChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	engine, err := NewEngine(16)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)

	sum1, err := engine.File(path, info)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second!"), 0o644))
	// Force a distinct mtime even on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	info2, err := os.Stat(path)
	require.NoError(t, err)

	sum2, err := engine.File(path, info2)
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum2)
	assert.Equal(t, Sum([]byte("second!")), sum2)
}

func TestEngine_Forget_DropsMemo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	engine, err := NewEngine(16)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)

	_, err = engine.File(path, info)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("other"), 0o644))
	engine.Forget(path)

	// Same stale stat info, but the memo entry is gone: the file is
	// re-read from disk.
	sum, err := engine.File(path, info)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("other")), sum)
}

func TestEngine_File_MissingFile(t *testing.T) {
	engine, err := NewEngine(16)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = engine.File(path, info)
	assert.Error(t, err)
}
