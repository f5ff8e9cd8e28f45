package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXattrRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	if err := SetXattr(p, "user.cifsd_test", []byte("hello")); err != nil {
		t.Skipf("extended attributes unsupported on this filesystem: %v", err)
	}

	got, err := GetXattr(p, "user.cifsd_test")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	names, err := ListXattr(p)
	require.NoError(t, err)
	assert.Contains(t, names, "user.cifsd_test")

	require.NoError(t, RemoveXattr(p, "user.cifsd_test"))
	_, err = GetXattr(p, "user.cifsd_test")
	assert.Error(t, err)
}

func TestRemoveAllStreamXattrsLeavesNonStream(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	if err := SetXattr(p, StreamPrefix+"s1", []byte("a")); err != nil {
		t.Skipf("extended attributes unsupported on this filesystem: %v", err)
	}
	require.NoError(t, SetXattr(p, DOSAttrXattr, []byte{0x20}))

	require.NoError(t, RemoveAllStreamXattrs(p))

	names, err := ListXattr(p)
	require.NoError(t, err)
	assert.NotContains(t, names, StreamPrefix+"s1")
	assert.Contains(t, names, DOSAttrXattr)
}
