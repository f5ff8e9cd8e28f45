package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopBreaker struct{ broken []string }

func (b *noopBreaker) BreakAllLevel2(path string) { b.broken = append(b.broken, path) }

func newTestAdapter(t *testing.T) (*Adapter, string, *noopBreaker) {
	t.Helper()
	root := t.TempDir()
	breaker := &noopBreaker{}
	return NewAdapter(root, breaker), root, breaker
}

func TestResolvePathMapsSeparatorsAndStripsWildcard(t *testing.T) {
	a, root, _ := newTestAdapter(t)

	p, err := a.ResolvePath(`\dir\sub\*`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dir/sub"), p)
}

func TestResolvePathRejectsEscape(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	_, err := a.ResolvePath(`..\..\etc\passwd`)
	assert.Error(t, err)
}

func TestWriteBreaksLevel2OplockBeforeTouchingData(t *testing.T) {
	a, root, breaker := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))

	f, err := a.Open(p, "")
	require.NoError(t, err)
	defer f.Close()

	n, err := a.Write(f, 2, []byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, breaker.broken, p)

	got, err := a.Read(f, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "01XY456789", string(got))
}

func TestStreamWriteReadRoundTrip(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("body"), 0644))

	f, err := a.Open(p, "mystream")
	require.NoError(t, err)
	assert.True(t, f.IsStream)

	_, err = a.Write(f, 0, []byte("hello stream"))
	require.NoError(t, err)

	got, err := a.Read(f, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello stream", string(got))
}

func TestLockConflictReadVsWrite(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))

	writer, _ := a.Open(p, "")
	defer writer.Close()
	reader, _ := a.Open(p, "")
	defer reader.Close()

	require.NoError(t, a.Lock(writer, 0, 5, true))

	_, err := a.Write(reader, 2, []byte("XY"))
	assert.Error(t, err)

	_, err = a.Read(reader, 2, 2)
	assert.Error(t, err)

	_, err = a.Read(reader, 6, 2)
	assert.NoError(t, err)
}

func TestLockSelfNeverConflicts(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))

	f, _ := a.Open(p, "")
	defer f.Close()

	require.NoError(t, a.Lock(f, 0, 10, true))
	_, err := a.Write(f, 0, []byte("AB"))
	assert.NoError(t, err)
}

func TestUnlockAllReleasesLocks(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))

	writer, _ := a.Open(p, "")
	reader, _ := a.Open(p, "")
	defer reader.Close()

	require.NoError(t, a.Lock(writer, 0, 5, true))
	a.UnlockAll(writer)
	writer.Close()

	_, err := a.Write(reader, 0, []byte("AB"))
	assert.NoError(t, err)
}

func TestRenameRefusesOpenChild(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	oldDir := filepath.Join(root, "old")
	require.NoError(t, os.Mkdir(oldDir, 0755))

	err := a.Rename(oldDir, filepath.Join(root, "new"), func(string) bool { return true })
	assert.Error(t, err)
}

func TestRenameSucceedsWithoutOpenChild(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	oldDir := filepath.Join(root, "old")
	require.NoError(t, os.Mkdir(oldDir, 0755))

	err := a.Rename(oldDir, filepath.Join(root, "new"), func(string) bool { return false })
	assert.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "new"))
	assert.NoError(t, statErr)
}

func TestSetattrStripsSuidSgidOnOwnerChange(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	err := a.Setattr(p, Attrs{HasMode: true, Mode: 0o4755, OwnerChanged: true})
	require.NoError(t, err)

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Zero(t, info.Mode()&os.ModeSetuid)
}

func TestReaddirEndOfDirectoryOnEmptyFill(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	f := &File{}

	err := a.Readdir(f, func(buf []byte) int { return 0 })
	require.NoError(t, err)
	assert.Zero(t, f.DirUsed)
}

func TestReaddirDoesNotRefillUntilConsumed(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	f := &File{}
	calls := 0

	fill := func(buf []byte) int {
		calls++
		copy(buf, "entry")
		return 5
	}

	require.NoError(t, a.Readdir(f, fill))
	require.NoError(t, a.Readdir(f, fill)) // not yet consumed, no refill
	assert.Equal(t, 1, calls)

	f.DirOffset = f.DirUsed
	require.NoError(t, a.Readdir(f, fill))
	assert.Equal(t, 2, calls)
}

func TestCreateExclusiveRejectsExistingFile(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "exists.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := a.Create(p, 0o644, true)
	assert.Error(t, err)
}

func TestCreateNonExclusiveReopensExistingFile(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")

	f1, err := a.Create(p, 0o644, false)
	require.NoError(t, err)
	require.NoError(t, f1.Close())

	f2, err := a.Create(p, 0o644, false)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
}

func TestMkdirAndOpenDirAndRmdir(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "sub")

	require.NoError(t, a.Mkdir(p, 0o755))

	f, err := a.OpenDir(p)
	require.NoError(t, err)
	assert.Equal(t, p, f.Path)

	require.NoError(t, a.Rmdir(p))
}

func TestOpenDirRejectsRegularFile(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := a.OpenDir(p)
	assert.Error(t, err)
}

func TestRemoveDeletesFile(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	require.NoError(t, a.Remove(p))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestStatReturnsFileInfo(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	p := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	fi, err := a.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size())
}

func TestStatOnMissingPathReturnsNotFound(t *testing.T) {
	a, root, _ := newTestAdapter(t)
	_, err := a.Stat(filepath.Join(root, "missing.txt"))
	assert.Error(t, err)
}
